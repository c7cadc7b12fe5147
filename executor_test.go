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
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scanhive/scanhive/collectors"
	"github.com/scanhive/scanhive/config"
	"github.com/scanhive/scanhive/database/mocks"
	"github.com/scanhive/scanhive/model"
)

// scriptedCollector replays a fixed sequence of outcomes, repeating the
// last one once the script runs out.
type scriptedCollector struct {
	mu       sync.Mutex
	outcomes []func() (*model.CollectorResult, error)
	calls    int
}

func (c *scriptedCollector) Name() string        { return "scripted" }
func (c *scriptedCollector) Description() string { return "test collector" }

func (c *scriptedCollector) Collect(_ context.Context, _ string) (*model.CollectorResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	if idx >= len(c.outcomes) {
		idx = len(c.outcomes) - 1
	}
	c.calls++
	return c.outcomes[idx]()
}

func (c *scriptedCollector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func taggedSuccess() func() (*model.CollectorResult, error) {
	return func() (*model.CollectorResult, error) {
		return &model.CollectorResult{
			ID:            "res_1",
			CollectorName: "scripted",
			Target:        "example.com",
			Success:       true,
			Data:          map[string]interface{}{"records": 3},
			Timestamp:     time.Now(),
		}, nil
	}
}

func taggedFailure(message string) func() (*model.CollectorResult, error) {
	return func() (*model.CollectorResult, error) {
		return &model.CollectorResult{
			ID:            "res_1",
			CollectorName: "scripted",
			Target:        "example.com",
			Success:       false,
			Error:         message,
			Timestamp:     time.Now(),
		}, nil
	}
}

func infraFault(message string) func() (*model.CollectorResult, error) {
	return func() (*model.CollectorResult, error) {
		return nil, errors.New(message)
	}
}

func newExecutorTestEnv(t *testing.T, ds *mocks.MockDataSource, collector collectors.Collector) (*Scanhive, *fakeBus, redis.UniversalClient) {
	t.Helper()
	config.MockConfig(&config.Configuration{})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry := collectors.NewRegistry()
	if collector != nil {
		registry.Register(collector)
	}
	bus := newFakeBus()
	return &Scanhive{
		datasource: ds,
		redis:      client,
		registry:   registry,
		bus:        bus,
	}, bus, client
}

func scanTaskFixture(status string) *model.ScanTask {
	return &model.ScanTask{
		ScanID:         "scan_123",
		AccountID:      "acc_456",
		Target:         "example.com",
		Collector:      "scripted",
		Status:         status,
		CreditsCharged: 5,
		CreatedAt:      time.Now(),
	}
}

func scanQueueTask(t *testing.T) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(ScanTaskPayload{
		ScanID:    "scan_123",
		AccountID: "acc_456",
		Target:    "example.com",
		Collector: "scripted",
	})
	require.NoError(t, err)
	return asynq.NewTask("new:scan_1", payload)
}

func TestProcessScanSuccessFirstAttempt(t *testing.T) {
	collector := &scriptedCollector{outcomes: []func() (*model.CollectorResult, error){taggedSuccess()}}
	ds := new(mocks.MockDataSource)
	s, bus, _ := newExecutorTestEnv(t, ds, collector)

	ds.On("GetScanTask", mock.Anything, "scan_123").Return(scanTaskFixture(model.StatusPending), nil).Once()
	ds.On("UpdateScanStatus", mock.Anything, "scan_123", model.StatusProcessing).Return(true, nil).Once()
	ds.On("CompleteScanTask", mock.Anything, "scan_123", model.StatusSuccess, mock.Anything, "").Return(true, nil).Once()

	err := s.ProcessScan(context.Background(), scanQueueTask(t))
	require.NoError(t, err)

	assert.Equal(t, 1, collector.callCount())
	assert.Equal(t, []string{model.EventScanStarted, model.EventScanSucceeded}, bus.publishedKinds())
	ds.AssertExpectations(t)
}

func TestProcessScanTaggedFailureIsNotRetried(t *testing.T) {
	collector := &scriptedCollector{outcomes: []func() (*model.CollectorResult, error){taggedFailure("no records for target")}}
	ds := new(mocks.MockDataSource)
	s, bus, _ := newExecutorTestEnv(t, ds, collector)

	ds.On("GetScanTask", mock.Anything, "scan_123").Return(scanTaskFixture(model.StatusPending), nil).Once()
	ds.On("UpdateScanStatus", mock.Anything, "scan_123", model.StatusProcessing).Return(true, nil).Once()
	ds.On("CompleteScanTask", mock.Anything, "scan_123", model.StatusFailed, mock.Anything, "no records for target").Return(true, nil).Once()

	err := s.ProcessScan(context.Background(), scanQueueTask(t))
	require.NoError(t, err)

	assert.Equal(t, 1, collector.callCount())
	assert.Equal(t, []string{model.EventScanStarted, model.EventScanFailed}, bus.publishedKinds())
	ds.AssertExpectations(t)
}

func TestProcessScanRetriesTransientFaultThenSucceeds(t *testing.T) {
	collector := &scriptedCollector{outcomes: []func() (*model.CollectorResult, error){
		infraFault("dns timeout"),
		taggedSuccess(),
	}}
	ds := new(mocks.MockDataSource)
	s, bus, _ := newExecutorTestEnv(t, ds, collector)

	pending := scanTaskFixture(model.StatusPending)
	processing := scanTaskFixture(model.StatusProcessing)
	ds.On("GetScanTask", mock.Anything, "scan_123").Return(pending, nil).Once()
	ds.On("UpdateScanStatus", mock.Anything, "scan_123", model.StatusProcessing).Return(true, nil)
	ds.On("UpdateScanStatus", mock.Anything, "scan_123", model.StatusRetryScheduled).Return(true, nil).Once()
	// Terminal re-check before the second attempt.
	ds.On("GetScanTask", mock.Anything, "scan_123").Return(processing, nil).Once()
	ds.On("CompleteScanTask", mock.Anything, "scan_123", model.StatusSuccess, mock.Anything, "").Return(true, nil).Once()

	err := s.ProcessScan(context.Background(), scanQueueTask(t))
	require.NoError(t, err)

	assert.Equal(t, 2, collector.callCount())
	kinds := bus.publishedKinds()
	assert.Equal(t, []string{
		model.EventScanStarted,
		model.EventScanRetryScheduled,
		model.EventScanProgress,
		model.EventScanSucceeded,
	}, kinds)
	ds.AssertExpectations(t)
}

func TestProcessScanRetriesExhausted(t *testing.T) {
	collector := &scriptedCollector{outcomes: []func() (*model.CollectorResult, error){infraFault("connection refused")}}
	ds := new(mocks.MockDataSource)
	s, bus, _ := newExecutorTestEnv(t, ds, collector)
	// Two total attempts keeps the backoff wait short.
	config.MockConfig(&config.Configuration{Queue: config.QueueConfig{MaxScanAttempts: 2}})

	pending := scanTaskFixture(model.StatusPending)
	processing := scanTaskFixture(model.StatusProcessing)
	ds.On("GetScanTask", mock.Anything, "scan_123").Return(pending, nil).Once()
	ds.On("UpdateScanStatus", mock.Anything, "scan_123", model.StatusProcessing).Return(true, nil)
	ds.On("UpdateScanStatus", mock.Anything, "scan_123", model.StatusRetryScheduled).Return(true, nil).Once()
	ds.On("GetScanTask", mock.Anything, "scan_123").Return(processing, nil).Once()
	ds.On("CompleteScanTask", mock.Anything, "scan_123", model.StatusFailed, mock.Anything, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "retries exhausted")
	})).Return(true, nil).Once()

	err := s.ProcessScan(context.Background(), scanQueueTask(t))
	require.NoError(t, err)

	assert.Equal(t, 2, collector.callCount())
	kinds := bus.publishedKinds()
	require.Len(t, kinds, 4)
	assert.Equal(t, model.EventScanRetryScheduled, kinds[1])
	assert.Equal(t, model.EventScanFailed, kinds[3])

	failed := bus.published[len(bus.published)-1]
	assert.Contains(t, failed.Error, "retries exhausted")
	assert.Contains(t, failed.Error, "connection refused")
	ds.AssertExpectations(t)
}

func TestProcessScanCeilingCountsTotalAttempts(t *testing.T) {
	// Would succeed on attempt 4, but the ceiling of 3 counts total
	// attempts, so the scan fails with retries exhausted after three runs.
	collector := &scriptedCollector{outcomes: []func() (*model.CollectorResult, error){
		infraFault("tls handshake timeout"),
		infraFault("tls handshake timeout"),
		infraFault("tls handshake timeout"),
		taggedSuccess(),
	}}
	ds := new(mocks.MockDataSource)
	s, bus, _ := newExecutorTestEnv(t, ds, collector)
	config.MockConfig(&config.Configuration{Queue: config.QueueConfig{MaxScanAttempts: 3}})

	pending := scanTaskFixture(model.StatusPending)
	processing := scanTaskFixture(model.StatusProcessing)
	ds.On("GetScanTask", mock.Anything, "scan_123").Return(pending, nil).Once()
	ds.On("UpdateScanStatus", mock.Anything, "scan_123", model.StatusProcessing).Return(true, nil)
	ds.On("UpdateScanStatus", mock.Anything, "scan_123", model.StatusRetryScheduled).Return(true, nil).Twice()
	ds.On("GetScanTask", mock.Anything, "scan_123").Return(processing, nil).Twice()
	ds.On("CompleteScanTask", mock.Anything, "scan_123", model.StatusFailed, mock.Anything, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "retries exhausted after 3 attempts")
	})).Return(true, nil).Once()

	err := s.ProcessScan(context.Background(), scanQueueTask(t))
	require.NoError(t, err)

	assert.Equal(t, 3, collector.callCount())
	kinds := bus.publishedKinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, model.EventScanFailed, kinds[len(kinds)-1])
	ds.AssertExpectations(t)
}

func TestProcessScanTerminalRecordIsNoOp(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, bus, _ := newExecutorTestEnv(t, ds, nil)

	ds.On("GetScanTask", mock.Anything, "scan_123").Return(scanTaskFixture(model.StatusCancelled), nil).Once()

	err := s.ProcessScan(context.Background(), scanQueueTask(t))
	require.NoError(t, err)

	assert.Empty(t, bus.publishedKinds())
	ds.AssertExpectations(t)
	ds.AssertNotCalled(t, "UpdateScanStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessScanStopsWhenCancelledBeforeProcessing(t *testing.T) {
	collector := &scriptedCollector{outcomes: []func() (*model.CollectorResult, error){taggedSuccess()}}
	ds := new(mocks.MockDataSource)
	s, bus, _ := newExecutorTestEnv(t, ds, collector)

	ds.On("GetScanTask", mock.Anything, "scan_123").Return(scanTaskFixture(model.StatusPending), nil).Once()
	// The terminal-status guard in the store rejected the transition.
	ds.On("UpdateScanStatus", mock.Anything, "scan_123", model.StatusProcessing).Return(false, nil).Once()

	err := s.ProcessScan(context.Background(), scanQueueTask(t))
	require.NoError(t, err)

	assert.Equal(t, 0, collector.callCount())
	assert.Empty(t, bus.publishedKinds())
	ds.AssertExpectations(t)
}

func TestProcessScanSkipsWhenLockHeldElsewhere(t *testing.T) {
	collector := &scriptedCollector{outcomes: []func() (*model.CollectorResult, error){taggedSuccess()}}
	ds := new(mocks.MockDataSource)
	s, bus, client := newExecutorTestEnv(t, ds, collector)

	// Another worker already holds the processing lock.
	require.NoError(t, client.Set(context.Background(), "scan:processing:scan_123", "other-worker", time.Minute).Err())

	ds.On("GetScanTask", mock.Anything, "scan_123").Return(scanTaskFixture(model.StatusPending), nil).Once()

	err := s.ProcessScan(context.Background(), scanQueueTask(t))
	require.NoError(t, err)

	assert.Equal(t, 0, collector.callCount())
	assert.Empty(t, bus.publishedKinds())
	ds.AssertExpectations(t)
}

func TestProcessScanUnknownCollectorFailsImmediately(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, bus, _ := newExecutorTestEnv(t, ds, nil)

	ds.On("GetScanTask", mock.Anything, "scan_123").Return(scanTaskFixture(model.StatusPending), nil).Once()
	ds.On("UpdateScanStatus", mock.Anything, "scan_123", model.StatusProcessing).Return(true, nil).Once()
	ds.On("CompleteScanTask", mock.Anything, "scan_123", model.StatusFailed, mock.Anything, mock.Anything).Return(true, nil).Once()

	err := s.ProcessScan(context.Background(), scanQueueTask(t))
	require.NoError(t, err)

	kinds := bus.publishedKinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, model.EventScanFailed, kinds[1])
	ds.AssertExpectations(t)
}
