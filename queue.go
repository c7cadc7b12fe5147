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
	"hash/fnv"
	"log"

	"github.com/hibiken/asynq"

	"github.com/scanhive/scanhive/config"
	redis_db "github.com/scanhive/scanhive/internal/redis-db"
	"github.com/scanhive/scanhive/model"
)

// Queue represents the broker-side handle for scan tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// ScanTaskPayload is the wire form of a queued scan.
type ScanTaskPayload struct {
	ScanID    string `json:"scan_id"`
	AccountID string `json:"account_id"`
	Target    string `json:"target"`
	Collector string `json:"collector"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Enqueue places a scan task on the broker. The broker task ID is the scan
// ID, so a scan can never be queued twice, and the queue is picked by
// hashing the account ID so one account's scans process serially.
// Delivery retries are disabled at the broker; the executor owns the
// retry policy.
func (q *Queue) Enqueue(ctx context.Context, scan *model.ScanTask) error {
	ctx, span := tracer.Start(ctx, "Adding Scan To Redis Queue")
	defer span.End()

	payload, err := json.Marshal(ScanTaskPayload{
		ScanID:    scan.ScanID,
		AccountID: scan.AccountID,
		Target:    scan.Target,
		Collector: scan.Collector,
	})
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, q.getTask(scan, payload), asynq.MaxRetry(0))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued scan: %+v", scan.ScanID)

	return nil
}

// getTask generates a task for a scan and assigns it to a specific queue based on the account ID.
// Scans are distributed across multiple queues by hashing the account ID so that all scans
// belonging to one account land on the same queue and process in order.
func (q *Queue) getTask(scan *model.ScanTask, payload []byte) *asynq.Task {
	cnf, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config: %v", err)
		return nil
	}
	queueName := ShardQueueName(cnf.Queue.ScanQueue, scan.AccountID, cnf.Queue.NumberOfQueues)

	taskOptions := []asynq.Option{asynq.TaskID(scan.ScanID), asynq.Queue(queueName)}
	return asynq.NewTask(queueName, payload, taskOptions...)
}

// ShardQueueName picks the shard queue for an account.
func ShardQueueName(prefix, accountID string, numberOfQueues int) string {
	queueIndex := hashAccountID(accountID) % numberOfQueues
	return fmt.Sprintf("%s_%d", prefix, queueIndex+1)
}

// hashAccountID returns a consistent hash value for a string account ID.
func hashAccountID(accountID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(accountID))
	return int(hasher.Sum32())
}

// GetScanFromQueue retrieves a queued scan payload by its scan ID.
func (q *Queue) GetScanFromQueue(scanID string) (*ScanTaskPayload, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	// Iterate over all scan queue shards
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.ScanQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, scanID)
		if err == nil && task != nil {
			var payload ScanTaskPayload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				return nil, err
			}
			return &payload, nil
		}
	}
	return nil, nil // Return nil if the scan is not queued
}

// RemoveScanFromQueue deletes a still-pending scan task from the broker.
// Tasks already picked up by a worker cannot be removed; the executor's
// terminal-status guard covers that window instead.
func (q *Queue) RemoveScanFromQueue(accountID, scanID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	queueName := ShardQueueName(cfg.Queue.ScanQueue, accountID, cfg.Queue.NumberOfQueues)
	return q.Inspector.DeleteTask(queueName, scanID)
}
