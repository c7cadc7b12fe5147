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

package database

import (
	"context"
	"time"

	"github.com/scanhive/scanhive/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	account // Interface for account and credit-ledger operations
	scan    // Interface for scan task record operations
}

// account defines methods for handling accounts and their credit balances.
type account interface {
	CreateAccount(account model.Account) (model.Account, error)                       // Creates a new account
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)            // Retrieves an account by ID
	GetAllAccounts(limit, offset int) ([]model.Account, error)                        // Retrieves all accounts
	TopUpCredits(ctx context.Context, accountID string, amount int64) (int64, error)  // Adds credits, returns new balance
	ReserveCredits(ctx context.Context, accountID string, amount int64) (int64, error) // Atomically deducts credits, returns remaining balance
}

// scan defines methods for handling scan task records.
type scan interface {
	CreateScanTask(ctx context.Context, task *model.ScanTask) (*model.ScanTask, error)                                             // Records a new scan task
	GetScanTask(ctx context.Context, scanID string) (*model.ScanTask, error)                                                       // Retrieves a scan task by ID
	GetScanTaskForAccount(ctx context.Context, scanID, accountID string) (*model.ScanTask, error)                                  // Retrieves a scan task owned by an account
	UpdateScanStatus(ctx context.Context, scanID string, status string) (bool, error)                                              // Updates status unless the record is already terminal
	CompleteScanTask(ctx context.Context, scanID, status string, snapshot map[string]interface{}, errMessage string) (bool, error) // Writes the terminal status and result snapshot
	SetQueueTaskID(ctx context.Context, scanID, queueTaskID string) error                                                          // Stores the broker task ID after enqueue
	ListScanTasks(ctx context.Context, accountID, status string, limit, offset int) ([]model.ScanTask, int64, error)               // Lists an account's scans newest first
	DeleteScanTask(ctx context.Context, scanID, accountID string) (bool, error)                                                    // Deletes a scan record owned by an account
	GetScanStatistics(ctx context.Context, accountID string) (*model.ScanStatistics, error)                                        // Aggregates scan counts and credit spend
	GetStaleScans(ctx context.Context, olderThan time.Time, limit int) ([]model.ScanTask, error)                                   // Finds non-terminal scans older than a cutoff
}
