/*
Copyright 2025 Scanhive Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scanhive

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scanhive/scanhive/collectors"
	"github.com/scanhive/scanhive/config"
	"github.com/scanhive/scanhive/database/mocks"
	"github.com/scanhive/scanhive/internal/apierror"
	"github.com/scanhive/scanhive/model"
)

// newServiceTestEnv wires a Scanhive instance against a miniredis-backed
// broker and an in-memory event bus. The single shard keeps queue names
// predictable.
func newServiceTestEnv(t *testing.T, ds *mocks.MockDataSource) (*Scanhive, *fakeBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
	})

	queueOptions := asynq.RedisClientOpt{Addr: mr.Addr()}
	q := &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
	}
	t.Cleanup(func() { _ = q.Client.Close() })

	bus := newFakeBus()
	return &Scanhive{
		datasource: ds,
		queue:      q,
		bus:        bus,
		registry:   collectors.NewDefaultRegistry(),
	}, bus, mr
}

func TestSubmitScanUnknownCollectorIsNotCharged(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, _ := newServiceTestEnv(t, ds)

	_, _, err := s.SubmitScan(context.Background(), "acc_456", "example.com", "shodan", "", "")
	require.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
	ds.AssertNotCalled(t, "ReserveCredits", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitScanInsufficientCredits(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, _ := newServiceTestEnv(t, ds)

	ds.On("ReserveCredits", mock.Anything, "acc_456", int64(5)).
		Return(int64(3), apierror.NewInsufficientCredits(5, 3)).Once()

	_, remaining, err := s.SubmitScan(context.Background(), "acc_456", "example.com", "dns", "", "")
	require.Error(t, err)
	assert.Equal(t, int64(3), remaining)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrInsufficientCredits, apiErr.Code)

	details, ok := apiErr.Details.(apierror.InsufficientCreditsDetails)
	require.True(t, ok)
	assert.Equal(t, int64(5), details.Required)
	assert.Equal(t, int64(3), details.Available)
	assert.Equal(t, int64(2), details.Needed)

	ds.AssertNotCalled(t, "CreateScanTask", mock.Anything, mock.Anything)
	ds.AssertExpectations(t)
}

func TestSubmitScanSuccess(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, _ := newServiceTestEnv(t, ds)

	created := scanTaskFixture(model.StatusPending)
	created.Collector = "dns"
	ds.On("ReserveCredits", mock.Anything, "acc_456", int64(5)).Return(int64(95), nil).Once()
	ds.On("CreateScanTask", mock.Anything, mock.MatchedBy(func(task *model.ScanTask) bool {
		return task.AccountID == "acc_456" && task.Collector == "dns" && task.CreditsCharged == 5
	})).Return(created, nil).Once()
	ds.On("SetQueueTaskID", mock.Anything, "scan_123", "scan_123").Return(nil).Once()

	task, remaining, err := s.SubmitScan(context.Background(), "acc_456", "example.com", "dns", "203.0.113.7", "curl/8.0")
	require.NoError(t, err)
	assert.Equal(t, int64(95), remaining)
	assert.Equal(t, "scan_123", task.ScanID)
	assert.Equal(t, "scan_123", task.QueueTaskID)

	// The task must be waiting on the account's shard queue.
	cfg, err := config.Fetch()
	require.NoError(t, err)
	shard := ShardQueueName(cfg.Queue.ScanQueue, "acc_456", cfg.Queue.NumberOfQueues)
	info, err := s.queue.Inspector.GetTaskInfo(shard, "scan_123")
	require.NoError(t, err)
	assert.Equal(t, "scan_123", info.ID)

	ds.AssertExpectations(t)
}

func TestSubmitScanEnqueueFailureMarksScanFailed(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, mr := newServiceTestEnv(t, ds)

	created := scanTaskFixture(model.StatusPending)
	ds.On("ReserveCredits", mock.Anything, "acc_456", int64(5)).Return(int64(95), nil).Once()
	ds.On("CreateScanTask", mock.Anything, mock.Anything).Return(created, nil).Once()
	ds.On("CompleteScanTask", mock.Anything, "scan_123", model.StatusFailed, mock.Anything, "failed to enqueue scan").Return(true, nil).Once()

	// Broker down between the charge and the enqueue.
	mr.Close()

	_, remaining, err := s.SubmitScan(context.Background(), "acc_456", "example.com", "dns", "", "")
	require.Error(t, err)
	assert.Equal(t, int64(95), remaining)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	ds.AssertExpectations(t)
}

func TestCancelScanPendingScan(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, bus, _ := newServiceTestEnv(t, ds)

	pending := scanTaskFixture(model.StatusPending)
	cancelled := scanTaskFixture(model.StatusCancelled)
	ds.On("GetScanTaskForAccount", mock.Anything, "scan_123", "acc_456").Return(pending, nil).Once()
	ds.On("CompleteScanTask", mock.Anything, "scan_123", model.StatusCancelled, mock.Anything, "cancelled by user").Return(true, nil).Once()
	ds.On("GetScanTaskForAccount", mock.Anything, "scan_123", "acc_456").Return(cancelled, nil).Once()

	task, err := s.CancelScan(context.Background(), "scan_123", "acc_456")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, task.Status)

	kinds := bus.publishedKinds()
	require.Len(t, kinds, 1)
	assert.Equal(t, model.EventScanCancelled, kinds[0])
	ds.AssertExpectations(t)
}

func TestCancelScanAlreadyTerminal(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, _ := newServiceTestEnv(t, ds)

	ds.On("GetScanTaskForAccount", mock.Anything, "scan_123", "acc_456").Return(scanTaskFixture(model.StatusSuccess), nil).Once()

	_, err := s.CancelScan(context.Background(), "scan_123", "acc_456")
	require.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	ds.AssertNotCalled(t, "CompleteScanTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelScanLosesRaceWithExecutor(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, bus, _ := newServiceTestEnv(t, ds)

	pending := scanTaskFixture(model.StatusProcessing)
	failed := scanTaskFixture(model.StatusFailed)
	ds.On("GetScanTaskForAccount", mock.Anything, "scan_123", "acc_456").Return(pending, nil).Once()
	ds.On("CompleteScanTask", mock.Anything, "scan_123", model.StatusCancelled, mock.Anything, "cancelled by user").Return(false, nil).Once()
	ds.On("GetScanTaskForAccount", mock.Anything, "scan_123", "acc_456").Return(failed, nil).Once()

	_, err := s.CancelScan(context.Background(), "scan_123", "acc_456")
	require.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.Contains(t, apiErr.Message, model.StatusFailed)
	assert.Empty(t, bus.publishedKinds())
	ds.AssertExpectations(t)
}

func TestListScansRejectsUnknownStatusFilter(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, _ := newServiceTestEnv(t, ds)

	_, _, err := s.ListScans(context.Background(), "acc_456", "EXPLODED", 10, 0)
	require.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
	ds.AssertNotCalled(t, "ListScanTasks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListScansClampsLimit(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, _ := newServiceTestEnv(t, ds)

	ds.On("ListScanTasks", mock.Anything, "acc_456", "", 20, 0).Return([]model.ScanTask{}, int64(0), nil).Once()

	_, _, err := s.ListScans(context.Background(), "acc_456", "", 500, -3)
	require.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestDeleteScanNotFound(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, _ := newServiceTestEnv(t, ds)

	ds.On("DeleteScanTask", mock.Anything, "scan_123", "acc_456").Return(false, nil).Once()

	err := s.DeleteScan(context.Background(), "scan_123", "acc_456")
	require.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestGetCredits(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, _ := newServiceTestEnv(t, ds)

	ds.On("GetAccountByID", mock.Anything, "acc_456").Return(&model.Account{
		AccountID:      "acc_456",
		CreditsBalance: 42,
	}, nil).Once()

	balance, err := s.GetCredits(context.Background(), "acc_456")
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)
}

func TestReconcileStaleScansRequeuesLostScans(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, _ := newServiceTestEnv(t, ds)

	stale := *scanTaskFixture(model.StatusPending)
	ds.On("GetStaleScans", mock.Anything, mock.Anything, 50).Return([]model.ScanTask{stale}, nil).Once()

	requeued, err := s.ReconcileStaleScans(context.Background(), 10*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	cfg, err := config.Fetch()
	require.NoError(t, err)
	shard := ShardQueueName(cfg.Queue.ScanQueue, stale.AccountID, cfg.Queue.NumberOfQueues)
	info, err := s.queue.Inspector.GetTaskInfo(shard, stale.ScanID)
	require.NoError(t, err)
	assert.Equal(t, stale.ScanID, info.ID)
	ds.AssertExpectations(t)
}

func TestReconcileStaleScansRequeuesOrphanedProcessingScan(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _, _ := newServiceTestEnv(t, ds)

	// A scan left PROCESSING by a dead worker has no live broker task;
	// the sweep must put it back on the queue so it eventually finalizes.
	orphaned := *scanTaskFixture(model.StatusProcessing)
	ds.On("GetStaleScans", mock.Anything, mock.Anything, 50).Return([]model.ScanTask{orphaned}, nil).Once()

	requeued, err := s.ReconcileStaleScans(context.Background(), 30*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	cfg, err := config.Fetch()
	require.NoError(t, err)
	shard := ShardQueueName(cfg.Queue.ScanQueue, orphaned.AccountID, cfg.Queue.NumberOfQueues)
	info, err := s.queue.Inspector.GetTaskInfo(shard, orphaned.ScanID)
	require.NoError(t, err)
	assert.Equal(t, orphaned.ScanID, info.ID)
	ds.AssertExpectations(t)
}
