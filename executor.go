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
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanhive/scanhive/collectors"
	"github.com/scanhive/scanhive/config"
	"github.com/scanhive/scanhive/internal/cache"
	redlock "github.com/scanhive/scanhive/internal/lock"
	"github.com/scanhive/scanhive/internal/notification"
	"github.com/scanhive/scanhive/model"
)

// ProcessScan is the queue handler for scan tasks. It runs the scan's
// collector against its target, retrying infrastructure faults with
// exponential backoff up to the configured attempt ceiling, and writes the
// terminal record before publishing the terminal lifecycle event.
//
// The handler is idempotent: a redelivered task whose scan already reached a
// terminal status is acknowledged without side effects. Queue-level retries
// are disabled at enqueue time; this handler owns the retry policy.
func (s *Scanhive) ProcessScan(ctx context.Context, t *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "Processing Scan From Redis Queue",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var payload ScanTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	task, err := s.datasource.GetScanTask(ctx, payload.ScanID)
	if err != nil {
		logrus.Errorf("scan %s not found in store, dropping task: %v", payload.ScanID, err)
		return nil
	}
	if model.IsTerminalStatus(task.Status) {
		logrus.Infof("scan %s already %s, skipping", task.ScanID, task.Status)
		return nil
	}

	hardLimit := time.Duration(cfg.Queue.HardTimeLimitSec) * time.Second
	locker := redlock.NewScanLocker(s.redis, task.ScanID, model.GenerateUUIDWithSuffix("worker"))
	if err := locker.Lock(ctx, hardLimit); err != nil {
		logrus.Infof("scan %s is being processed elsewhere: %v", task.ScanID, err)
		return nil
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("failed to release lock for scan %s: %v", task.ScanID, err)
		}
	}()

	applied, err := s.datasource.UpdateScanStatus(ctx, task.ScanID, model.StatusProcessing)
	if err != nil {
		return err
	}
	if !applied {
		// The record went terminal between the load and the update, most
		// likely a cancellation. Acknowledge and move on.
		logrus.Infof("scan %s went terminal before processing started", task.ScanID)
		return nil
	}

	s.publishEvent(ctx, &model.LifecycleEvent{
		ScanID:  task.ScanID,
		Kind:    model.EventScanStarted,
		Status:  model.StatusProcessing,
		Message: fmt.Sprintf("running %s collector against %s", task.Collector, task.Target),
	})

	collector, err := s.registry.Get(task.Collector)
	if err != nil {
		// An unknown collector cannot succeed on retry.
		return s.finalizeScan(ctx, task, model.StatusFailed, nil, err.Error(), 0)
	}

	return s.runWithRetries(ctx, cfg, task, collector, locker, hardLimit)
}

// runWithRetries executes the collector up to MaxScanAttempts total attempts.
// A tagged result ends the scan immediately regardless of its success flag;
// only errors returned by the collector are treated as transient.
func (s *Scanhive) runWithRetries(ctx context.Context, cfg *config.Configuration, task *model.ScanTask, collector collectors.Collector, locker *redlock.Locker, hardLimit time.Duration) error {
	maxAttempts := cfg.Queue.MaxScanAttempts
	softLimit := time.Duration(cfg.Queue.SoftTimeLimitSec) * time.Second
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			// The record may have been cancelled while we were backing off.
			current, err := s.datasource.GetScanTask(ctx, task.ScanID)
			if err == nil && model.IsTerminalStatus(current.Status) {
				logrus.Infof("scan %s went terminal during backoff, stopping", task.ScanID)
				return nil
			}
			if _, err := s.datasource.UpdateScanStatus(ctx, task.ScanID, model.StatusProcessing); err != nil {
				logrus.Warnf("failed to mark scan %s processing on attempt %d: %v", task.ScanID, attempt, err)
			}
			s.publishEvent(ctx, &model.LifecycleEvent{
				ScanID:     task.ScanID,
				Kind:       model.EventScanProgress,
				Status:     model.StatusProcessing,
				Message:    fmt.Sprintf("attempt %d of %d", attempt, maxAttempts),
				Progress:   (attempt - 1) * 100 / maxAttempts,
				RetryCount: attempt - 1,
			})
		}

		attemptCtx, cancel := context.WithTimeout(ctx, hardLimit)
		var softWarn *time.Timer
		if softLimit > 0 && softLimit < hardLimit {
			softWarn = time.AfterFunc(softLimit, func() {
				logrus.Warnf("scan %s attempt %d exceeded the soft time limit (%s), hard limit in %s",
					task.ScanID, attempt, softLimit, hardLimit-softLimit)
			})
		}
		result, err := collector.Collect(attemptCtx, task.Target)
		if softWarn != nil {
			softWarn.Stop()
		}
		cancel()

		if err == nil {
			if result.Success {
				return s.finalizeScan(ctx, task, model.StatusSuccess, result.ToSnapshot(), "", attempt-1)
			}
			// A tagged failure is a business outcome, not a fault. Retrying
			// would just repeat the same answer.
			return s.finalizeScan(ctx, task, model.StatusFailed, result.ToSnapshot(), result.Error, attempt-1)
		}

		lastErr = err
		logrus.Warnf("scan %s attempt %d/%d failed: %v", task.ScanID, attempt, maxAttempts, err)

		if attempt == maxAttempts {
			break
		}

		wait := bo.NextBackOff()
		if _, err := s.datasource.UpdateScanStatus(ctx, task.ScanID, model.StatusRetryScheduled); err != nil {
			logrus.Warnf("failed to mark scan %s for retry: %v", task.ScanID, err)
		}
		s.publishEvent(ctx, &model.LifecycleEvent{
			ScanID:     task.ScanID,
			Kind:       model.EventScanRetryScheduled,
			Status:     model.StatusRetryScheduled,
			Message:    fmt.Sprintf("retrying in %s", wait.Round(time.Millisecond)),
			RetryCount: attempt,
			Error:      lastErr.Error(),
		})

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := locker.ExtendLock(ctx, hardLimit); err != nil {
			logrus.Debugf("lock extension skipped for scan %s: %v", task.ScanID, err)
		}
	}

	notification.NotifyError(fmt.Errorf("scan %s exhausted %d attempts: %v", task.ScanID, maxAttempts, lastErr))
	message := fmt.Sprintf("retries exhausted after %d attempts: %v", maxAttempts, lastErr)
	return s.finalizeScan(ctx, task, model.StatusFailed, nil, message, maxAttempts-1)
}

// finalizeScan writes the terminal record, invalidates the scan's cache entry
// and publishes the terminal lifecycle event. If the terminal write is not
// applied the scan was cancelled concurrently and no event is emitted: the
// cancellation path already published its own.
func (s *Scanhive) finalizeScan(ctx context.Context, task *model.ScanTask, status string, snapshot map[string]interface{}, errMessage string, retryCount int) error {
	applied, err := s.datasource.CompleteScanTask(ctx, task.ScanID, status, snapshot, errMessage)
	if err != nil {
		return err
	}
	if !applied {
		logrus.Infof("scan %s was already terminal, terminal write skipped", task.ScanID)
		return nil
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.ScanKey(task.ScanID)); err != nil {
			logrus.Debugf("cache invalidation failed for scan %s: %v", task.ScanID, err)
		}
	}

	event := &model.LifecycleEvent{
		ScanID:     task.ScanID,
		Kind:       model.EventScanFailed,
		Status:     status,
		RetryCount: retryCount,
		Error:      errMessage,
	}
	if status == model.StatusSuccess {
		event.Kind = model.EventScanSucceeded
		event.Result = snapshot
		event.Error = ""
	}
	s.publishEvent(ctx, event)

	logrus.Infof(" [*] Scan Processed %s status=%s", task.ScanID, status)
	return nil
}

// publishEvent is fire-and-forget: the durable record is the source of truth
// and a lost event only degrades liveness for connected viewers.
func (s *Scanhive) publishEvent(ctx context.Context, event *model.LifecycleEvent) {
	if err := s.bus.Publish(ctx, event); err != nil {
		logrus.Warnf("failed to publish %s event for scan %s: %v", event.Kind, event.ScanID, err)
	}
}
