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
package mocks

import (
	"context"
	"time"

	"github.com/scanhive/scanhive/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Account methods

func (m *MockDataSource) CreateAccount(account model.Account) (model.Account, error) {
	args := m.Called(account)
	return args.Get(0).(model.Account), args.Error(1)
}

func (m *MockDataSource) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *MockDataSource) GetAllAccounts(limit, offset int) ([]model.Account, error) {
	args := m.Called(limit, offset)
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *MockDataSource) TopUpCredits(ctx context.Context, accountID string, amount int64) (int64, error) {
	args := m.Called(ctx, accountID, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) ReserveCredits(ctx context.Context, accountID string, amount int64) (int64, error) {
	args := m.Called(ctx, accountID, amount)
	return args.Get(0).(int64), args.Error(1)
}

// Scan task methods

func (m *MockDataSource) CreateScanTask(ctx context.Context, task *model.ScanTask) (*model.ScanTask, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanTask), args.Error(1)
}

func (m *MockDataSource) GetScanTask(ctx context.Context, scanID string) (*model.ScanTask, error) {
	args := m.Called(ctx, scanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanTask), args.Error(1)
}

func (m *MockDataSource) GetScanTaskForAccount(ctx context.Context, scanID, accountID string) (*model.ScanTask, error) {
	args := m.Called(ctx, scanID, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanTask), args.Error(1)
}

func (m *MockDataSource) UpdateScanStatus(ctx context.Context, scanID string, status string) (bool, error) {
	args := m.Called(ctx, scanID, status)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) CompleteScanTask(ctx context.Context, scanID, status string, snapshot map[string]interface{}, errMessage string) (bool, error) {
	args := m.Called(ctx, scanID, status, snapshot, errMessage)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) SetQueueTaskID(ctx context.Context, scanID, queueTaskID string) error {
	args := m.Called(ctx, scanID, queueTaskID)
	return args.Error(0)
}

func (m *MockDataSource) ListScanTasks(ctx context.Context, accountID, status string, limit, offset int) ([]model.ScanTask, int64, error) {
	args := m.Called(ctx, accountID, status, limit, offset)
	return args.Get(0).([]model.ScanTask), args.Get(1).(int64), args.Error(2)
}

func (m *MockDataSource) DeleteScanTask(ctx context.Context, scanID, accountID string) (bool, error) {
	args := m.Called(ctx, scanID, accountID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetScanStatistics(ctx context.Context, accountID string) (*model.ScanStatistics, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanStatistics), args.Error(1)
}

func (m *MockDataSource) GetStaleScans(ctx context.Context, olderThan time.Time, limit int) ([]model.ScanTask, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).([]model.ScanTask), args.Error(1)
}
