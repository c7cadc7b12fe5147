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
package model

import "time"

// Scan statuses. A scan starts PENDING, moves to PROCESSING once an executor
// picks it up, and ends in exactly one of the terminal statuses. RETRY_SCHEDULED
// is a transient marker between failed attempts of the same scan.
const (
	StatusPending        = "PENDING"
	StatusProcessing     = "PROCESSING"
	StatusRetryScheduled = "RETRY_SCHEDULED"
	StatusSuccess        = "SUCCESS"
	StatusFailed         = "FAILED"
	StatusCancelled      = "CANCELLED"
)

// IsTerminalStatus reports whether a status permits no further transitions.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ScanTask is the durable record of one submitted scan. It doubles as the
// audit-trail row: client address and user agent are captured at submission
// and the full result snapshot is persisted on completion.
type ScanTask struct {
	ScanID         string                 `json:"scan_id"`
	AccountID      string                 `json:"account_id"`
	Target         string                 `json:"target"`
	Collector      string                 `json:"collector"`
	Status         string                 `json:"status"`
	QueueTaskID    string                 `json:"queue_task_id,omitempty"`
	CreditsCharged int64                  `json:"credits_charged"`
	ResultSnapshot map[string]interface{} `json:"result_snapshot,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	ClientIP       string                 `json:"client_ip,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

// CollectorResult is the tagged outcome of running a collector against a
// target. Success=false with an Error message is a business failure and is
// terminal; infrastructure faults are signalled through the error return of
// Collector.Collect instead and are eligible for retry.
type CollectorResult struct {
	ID            string                 `json:"id"`
	CollectorName string                 `json:"collector_name"`
	Target        string                 `json:"target"`
	Success       bool                   `json:"success"`
	Data          map[string]interface{} `json:"data"`
	Error         string                 `json:"error,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
}

// ToSnapshot converts the result into the opaque form stored on the scan record.
func (r *CollectorResult) ToSnapshot() map[string]interface{} {
	snapshot := map[string]interface{}{
		"id":             r.ID,
		"collector_name": r.CollectorName,
		"target":         r.Target,
		"success":        r.Success,
		"data":           r.Data,
		"timestamp":      r.Timestamp,
	}
	if r.Error != "" {
		snapshot["error"] = r.Error
	}
	if len(r.MetaData) > 0 {
		snapshot["meta_data"] = r.MetaData
	}
	return snapshot
}

// ScanStatistics aggregates an account's scan history.
type ScanStatistics struct {
	TotalScans        int64            `json:"total_scans"`
	StatusCounts      map[string]int64 `json:"status_counts"`
	TotalCreditsSpent int64            `json:"total_credits_spent"`
}
