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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/scanhive/scanhive/config"
	"github.com/scanhive/scanhive/internal/apierror"
	"github.com/scanhive/scanhive/internal/cache"
	"github.com/scanhive/scanhive/internal/notification"
	"github.com/scanhive/scanhive/model"
)

var (
	tracer = otel.Tracer("Scan pipeline")
)

// SubmitScan admits a new scan: the collector is validated against the
// registry before any credits move, then the cost is reserved, the durable
// record is written and the task handed to the broker. Credits are never
// refunded once reserved; a scan that later fails or is cancelled keeps
// its charge.
func (s *Scanhive) SubmitScan(ctx context.Context, accountID, target, collector, clientIP, userAgent string) (*model.ScanTask, int64, error) {
	ctx, span := tracer.Start(ctx, "Submitting Scan")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, 0, err
	}

	// Unknown collectors are rejected before the account is charged.
	if !s.registry.Has(collector) {
		_, err := s.registry.Get(collector)
		return nil, 0, err
	}

	cost := cnf.Scan.CostPerScan
	remaining, err := s.datasource.ReserveCredits(ctx, accountID, cost)
	if err != nil {
		return nil, remaining, err
	}

	task := &model.ScanTask{
		AccountID:      accountID,
		Target:         target,
		Collector:      collector,
		CreditsCharged: cost,
		ClientIP:       clientIP,
		UserAgent:      userAgent,
	}
	task, err = s.datasource.CreateScanTask(ctx, task)
	if err != nil {
		// The reservation stands; surface the failure loudly instead.
		notification.NotifyError(fmt.Errorf("scan record write failed after charging %s: %w", accountID, err))
		return nil, remaining, err
	}

	if err := s.queue.Enqueue(ctx, task); err != nil {
		span.RecordError(err)
		logrus.Errorf("enqueue failed for scan %s: %v", task.ScanID, err)
		if _, failErr := s.datasource.CompleteScanTask(ctx, task.ScanID, model.StatusFailed, nil, "failed to enqueue scan"); failErr != nil {
			notification.NotifyError(failErr)
		}
		return nil, remaining, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to enqueue scan", err)
	}

	// The broker task ID is the scan ID.
	if err := s.datasource.SetQueueTaskID(ctx, task.ScanID, task.ScanID); err != nil {
		logrus.Errorf("failed to store queue task id for scan %s: %v", task.ScanID, err)
	}
	task.QueueTaskID = task.ScanID

	return task, remaining, nil
}

// GetScan fetches a scan record owned by the account. Terminal records are
// immutable, so they are served from and written to the cache.
func (s *Scanhive) GetScan(ctx context.Context, scanID, accountID string) (*model.ScanTask, error) {
	if s.cache != nil {
		var cached model.ScanTask
		if err := s.cache.Get(ctx, cache.ScanKey(scanID), &cached); err == nil && cached.ScanID == scanID {
			if cached.AccountID != accountID {
				return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Scan task with ID '%s' not found", scanID), nil)
			}
			return &cached, nil
		}
	}

	task, err := s.datasource.GetScanTaskForAccount(ctx, scanID, accountID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && model.IsTerminalStatus(task.Status) {
		if err := s.cache.Set(ctx, cache.ScanKey(scanID), task, 1*time.Hour); err != nil {
			logrus.Warnf("failed to cache scan %s: %v", scanID, err)
		}
	}
	return task, nil
}

// CancelScan marks a PENDING or PROCESSING scan CANCELLED and removes the
// broker task if it has not been picked up yet. Credits are not refunded.
// Cancelling an already terminal scan is a conflict.
func (s *Scanhive) CancelScan(ctx context.Context, scanID, accountID string) (*model.ScanTask, error) {
	task, err := s.datasource.GetScanTaskForAccount(ctx, scanID, accountID)
	if err != nil {
		return nil, err
	}
	if model.IsTerminalStatus(task.Status) {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Scan is already %s", task.Status), nil)
	}

	applied, err := s.datasource.CompleteScanTask(ctx, scanID, model.StatusCancelled, nil, "cancelled by user")
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the race against the executor writing a terminal status.
		current, err := s.datasource.GetScanTaskForAccount(ctx, scanID, accountID)
		if err != nil {
			return nil, err
		}
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Scan is already %s", current.Status), nil)
	}

	// Best effort: the task may already be with a worker, in which case the
	// terminal-status guard makes the worker's result a no-op.
	if err := s.queue.RemoveScanFromQueue(accountID, scanID); err != nil {
		logrus.Infof("scan %s not removed from queue: %v", scanID, err)
	}

	if err := s.bus.Publish(ctx, &model.LifecycleEvent{
		ScanID:  scanID,
		Kind:    model.EventScanCancelled,
		Status:  model.StatusCancelled,
		Message: "cancelled by user",
	}); err != nil {
		logrus.Warnf("failed to publish cancel event for scan %s: %v", scanID, err)
	}

	return s.datasource.GetScanTaskForAccount(ctx, scanID, accountID)
}

// ListScans pages through an account's scan history, newest first.
func (s *Scanhive) ListScans(ctx context.Context, accountID, status string, limit, offset int) ([]model.ScanTask, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if status != "" && !validStatusFilter(status) {
		return nil, 0, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Unknown status filter '%s'", status), nil)
	}
	return s.datasource.ListScanTasks(ctx, accountID, status, limit, offset)
}

// DeleteScan removes a scan record from the account's history. Ownership is
// enforced in the store; a miss is reported as not found.
func (s *Scanhive) DeleteScan(ctx context.Context, scanID, accountID string) error {
	deleted, err := s.datasource.DeleteScanTask(ctx, scanID, accountID)
	if err != nil {
		return err
	}
	if !deleted {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Scan task with ID '%s' not found", scanID), nil)
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.ScanKey(scanID)); err != nil {
			logrus.Warnf("failed to evict cached scan %s: %v", scanID, err)
		}
	}
	return nil
}

// Statistics aggregates an account's scan history. The aggregate is cached
// briefly; a fresh completion can lag here for up to the TTL, while the
// per-scan records stay exact.
func (s *Scanhive) Statistics(ctx context.Context, accountID string) (*model.ScanStatistics, error) {
	if s.cache != nil {
		var cached model.ScanStatistics
		if err := s.cache.Get(ctx, cache.StatsKey(accountID), &cached); err == nil && cached.StatusCounts != nil {
			return &cached, nil
		}
	}

	stats, err := s.datasource.GetScanStatistics(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.StatsKey(accountID), stats, 30*time.Second); err != nil {
			logrus.Warnf("failed to cache statistics for account %s: %v", accountID, err)
		}
	}
	return stats, nil
}

// GetCredits returns the account's current credit balance.
func (s *Scanhive) GetCredits(ctx context.Context, accountID string) (int64, error) {
	account, err := s.datasource.GetAccountByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.CreditsBalance, nil
}

// ReconcileStaleScans finds scans stuck in a non-terminal status past the
// cutoff and re-enqueues them. A stale PENDING scan is one the broker lost;
// it is resubmitted only if no task is queued for it. A stale PROCESSING or
// RETRY_SCHEDULED scan means the worker died mid-attempt with broker
// retries disabled, so the dead broker task is cleared before resubmitting;
// the worker's expired lock and the terminal-status guard make the rerun
// safe. The cutoff must exceed the hard time limit so a long-running but
// live attempt is never swept. Returns the number of re-enqueued scans.
func (s *Scanhive) ReconcileStaleScans(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	stale, err := s.datasource.GetStaleScans(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for i := range stale {
		task := stale[i]
		if task.Status == model.StatusPending {
			queued, err := s.queue.GetScanFromQueue(task.ScanID)
			if err != nil {
				logrus.Warnf("reconciliation: broker lookup failed for scan %s: %v", task.ScanID, err)
				continue
			}
			if queued != nil {
				continue
			}
		} else {
			// The broker may still hold the crashed attempt's task under
			// this scan ID, which would block the resubmit.
			if err := s.queue.RemoveScanFromQueue(task.AccountID, task.ScanID); err != nil {
				logrus.Debugf("reconciliation: no broker task to clear for scan %s: %v", task.ScanID, err)
			}
		}
		if err := s.queue.Enqueue(ctx, &task); err != nil {
			logrus.Errorf("reconciliation: re-enqueue failed for scan %s: %v", task.ScanID, err)
			continue
		}
		logrus.Infof("reconciliation: re-enqueued stale scan %s (was %s)", task.ScanID, task.Status)
		requeued++
	}
	return requeued, nil
}

func validStatusFilter(status string) bool {
	switch status {
	case model.StatusPending, model.StatusProcessing, model.StatusRetryScheduled,
		model.StatusSuccess, model.StatusFailed, model.StatusCancelled:
		return true
	}
	return false
}
