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

// Lifecycle event kinds published on the event bus as a scan progresses.
const (
	EventScanStarted        = "scan.started"
	EventScanProgress       = "scan.progress"
	EventScanRetryScheduled = "scan.retry_scheduled"
	EventScanSucceeded      = "scan.succeeded"
	EventScanFailed         = "scan.failed"
	EventScanCancelled      = "scan.cancelled"
)

// LifecycleEvent is an ephemeral notification emitted by the executor and
// fanned out to live viewers. It is never persisted: anyone who missed an
// event falls back to polling the scan record, which remains the source of
// truth.
type LifecycleEvent struct {
	ScanID     string                 `json:"scan_id"`
	Kind       string                 `json:"type"`
	Status     string                 `json:"status"`
	Message    string                 `json:"message,omitempty"`
	Progress   int                    `json:"progress,omitempty"`
	RetryCount int                    `json:"retry_count,omitempty"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	EmittedAt  time.Time              `json:"emitted_at"`
}

// IsTerminal reports whether the event closes the scan's live stream.
func (e LifecycleEvent) IsTerminal() bool {
	return e.Kind == EventScanSucceeded || e.Kind == EventScanFailed || e.Kind == EventScanCancelled
}
