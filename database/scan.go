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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/scanhive/scanhive/internal/apierror"
	"github.com/scanhive/scanhive/model"
)

const scanTaskColumns = `scan_id, account_id, target, collector, status, queue_task_id, credits_charged, result_snapshot, error_message, client_ip, user_agent, created_at, completed_at`

// CreateScanTask records a new scan task. The record starts in PENDING
// status; the scan ID is generated here and doubles as the broker task ID.
func (d Datasource) CreateScanTask(ctx context.Context, task *model.ScanTask) (*model.ScanTask, error) {
	task.ScanID = model.GenerateUUIDWithSuffix("scan")
	task.Status = model.StatusPending
	task.CreatedAt = time.Now()

	var snapshotJSON []byte
	var err error
	if task.ResultSnapshot != nil {
		snapshotJSON, err = json.Marshal(task.ResultSnapshot)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal result snapshot", err)
		}
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO scan_tasks (scan_id, account_id, target, collector, status, queue_task_id, credits_charged, result_snapshot, error_message, client_ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, task.ScanID, task.AccountID, task.Target, task.Collector, task.Status, task.QueueTaskID, task.CreditsCharged, snapshotJSON, task.ErrorMessage, task.ClientIP, task.UserAgent, task.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "foreign_key_violation":
				return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Invalid account ID", err)
			case "unique_violation":
				return nil, apierror.NewAPIError(apierror.ErrConflict, "Scan task with this ID already exists", err)
			default:
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create scan task", err)
	}

	return task, nil
}

// GetScanTask retrieves a scan task by its ID.
func (d Datasource) GetScanTask(ctx context.Context, scanID string) (*model.ScanTask, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM scan_tasks WHERE scan_id = $1
	`, scanTaskColumns), scanID)

	task, err := scanTaskRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Scan task with ID '%s' not found", scanID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve scan task", err)
	}
	return task, nil
}

// GetScanTaskForAccount retrieves a scan task only if it belongs to the
// given account. A scan owned by another account reports not found, never
// forbidden, so scan IDs cannot be probed across accounts.
func (d Datasource) GetScanTaskForAccount(ctx context.Context, scanID, accountID string) (*model.ScanTask, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM scan_tasks WHERE scan_id = $1 AND account_id = $2
	`, scanTaskColumns), scanID, accountID)

	task, err := scanTaskRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Scan task with ID '%s' not found", scanID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve scan task", err)
	}
	return task, nil
}

// UpdateScanStatus moves a scan task to a new non-terminal status. The
// update is guarded so terminal records are never overwritten; the boolean
// reports whether a row actually changed.
func (d Datasource) UpdateScanStatus(ctx context.Context, scanID string, status string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE scan_tasks
		SET status = $1
		WHERE scan_id = $2
		AND status NOT IN ($3, $4, $5)
	`, status, scanID, model.StatusSuccess, model.StatusFailed, model.StatusCancelled)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update scan status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return affected > 0, nil
}

// CompleteScanTask writes a terminal status together with the result
// snapshot, error message and completion timestamp, in one statement. The
// same guard as UpdateScanStatus applies: once terminal, always terminal.
func (d Datasource) CompleteScanTask(ctx context.Context, scanID, status string, snapshot map[string]interface{}, errMessage string) (bool, error) {
	if !model.IsTerminalStatus(status) {
		return false, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Status '%s' is not terminal", status), nil)
	}

	var snapshotJSON []byte
	var err error
	if snapshot != nil {
		snapshotJSON, err = json.Marshal(snapshot)
		if err != nil {
			return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal result snapshot", err)
		}
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE scan_tasks
		SET status = $1, result_snapshot = $2, error_message = $3, completed_at = $4
		WHERE scan_id = $5
		AND status NOT IN ($6, $7, $8)
	`, status, snapshotJSON, errMessage, time.Now(), scanID, model.StatusSuccess, model.StatusFailed, model.StatusCancelled)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete scan task", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return affected > 0, nil
}

// SetQueueTaskID stores the broker task ID issued at enqueue time.
func (d Datasource) SetQueueTaskID(ctx context.Context, scanID, queueTaskID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE scan_tasks SET queue_task_id = $1 WHERE scan_id = $2
	`, queueTaskID, scanID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set queue task ID", err)
	}
	return nil
}

// ListScanTasks lists an account's scan records newest first, optionally
// filtered by status, together with the total count for pagination.
func (d Datasource) ListScanTasks(ctx context.Context, accountID, status string, limit, offset int) ([]model.ScanTask, int64, error) {
	var total int64
	var err error
	if status != "" {
		err = d.Conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM scan_tasks WHERE account_id = $1 AND status = $2
		`, accountID, status).Scan(&total)
	} else {
		err = d.Conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM scan_tasks WHERE account_id = $1
		`, accountID).Scan(&total)
	}
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count scan tasks", err)
	}

	var rows *sql.Rows
	if status != "" {
		rows, err = d.Conn.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s FROM scan_tasks
			WHERE account_id = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT $3 OFFSET $4
		`, scanTaskColumns), accountID, status, limit, offset)
	} else {
		rows, err = d.Conn.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s FROM scan_tasks
			WHERE account_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`, scanTaskColumns), accountID, limit, offset)
	}
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list scan tasks", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []model.ScanTask{}
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan task data", err)
		}
		tasks = append(tasks, *task)
	}

	return tasks, total, nil
}

// DeleteScanTask removes a scan record, but only when it belongs to the
// given account. Returns false when nothing matched.
func (d Datasource) DeleteScanTask(ctx context.Context, scanID, accountID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		DELETE FROM scan_tasks WHERE scan_id = $1 AND account_id = $2
	`, scanID, accountID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete scan task", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return affected > 0, nil
}

// GetScanStatistics aggregates an account's scan counts by status and its
// total credit spend.
func (d Datasource) GetScanStatistics(ctx context.Context, accountID string) (*model.ScanStatistics, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(credits_charged), 0)
		FROM scan_tasks
		WHERE account_id = $1
		GROUP BY status
	`, accountID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to aggregate scan statistics", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &model.ScanStatistics{StatusCounts: map[string]int64{}}
	for rows.Next() {
		var status string
		var count, credits int64
		if err := rows.Scan(&status, &count, &credits); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan statistics row", err)
		}
		stats.StatusCounts[status] = count
		stats.TotalScans += count
		stats.TotalCreditsSpent += credits
	}

	return stats, nil
}

// GetStaleScans finds scans still in a non-terminal status past the cutoff.
// These are records whose broker task was lost, or whose worker died
// mid-attempt; reconciliation resubmits them.
func (d Datasource) GetStaleScans(ctx context.Context, olderThan time.Time, limit int) ([]model.ScanTask, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM scan_tasks
		WHERE status IN ($1, $2, $3) AND created_at < $4
		ORDER BY created_at ASC
		LIMIT $5
	`, scanTaskColumns), model.StatusPending, model.StatusProcessing, model.StatusRetryScheduled, olderThan, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to query stale scans", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []model.ScanTask{}
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan task data", err)
		}
		tasks = append(tasks, *task)
	}

	return tasks, nil
}

// scanTaskRow scans a single-row query result into a ScanTask.
func scanTaskRow(row *sql.Row) (*model.ScanTask, error) {
	task := model.ScanTask{}
	var queueTaskID, errorMessage, clientIP, userAgent sql.NullString
	var snapshotJSON []byte
	var completedAt sql.NullTime

	err := row.Scan(&task.ScanID, &task.AccountID, &task.Target, &task.Collector, &task.Status, &queueTaskID, &task.CreditsCharged, &snapshotJSON, &errorMessage, &clientIP, &userAgent, &task.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	return finishScanTask(&task, queueTaskID, errorMessage, clientIP, userAgent, snapshotJSON, completedAt)
}

// scanTaskRows scans the current row of a multi-row result into a ScanTask.
func scanTaskRows(rows *sql.Rows) (*model.ScanTask, error) {
	task := model.ScanTask{}
	var queueTaskID, errorMessage, clientIP, userAgent sql.NullString
	var snapshotJSON []byte
	var completedAt sql.NullTime

	err := rows.Scan(&task.ScanID, &task.AccountID, &task.Target, &task.Collector, &task.Status, &queueTaskID, &task.CreditsCharged, &snapshotJSON, &errorMessage, &clientIP, &userAgent, &task.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	return finishScanTask(&task, queueTaskID, errorMessage, clientIP, userAgent, snapshotJSON, completedAt)
}

func finishScanTask(task *model.ScanTask, queueTaskID, errorMessage, clientIP, userAgent sql.NullString, snapshotJSON []byte, completedAt sql.NullTime) (*model.ScanTask, error) {
	task.QueueTaskID = queueTaskID.String
	task.ErrorMessage = errorMessage.String
	task.ClientIP = clientIP.String
	task.UserAgent = userAgent.String
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &task.ResultSnapshot); err != nil {
			return nil, err
		}
	}
	return task, nil
}
