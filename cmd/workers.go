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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scanhive/scanhive/config"
	redis_db "github.com/scanhive/scanhive/internal/redis-db"
)

// reconcileInterval is how often the worker sweeps for stale scans.
// staleScanCutoff must comfortably exceed the worst-case attempt span
// (hard time limit times the attempt ceiling, plus backoff) so a live
// scan is never swept.
const (
	reconcileInterval = 5 * time.Minute
	staleScanCutoff   = 30 * time.Minute
)

// processScan hands a dequeued scan task to the executor. The executor owns
// retries, so any error returned here is terminal for the queue task.
func (b *scanhiveInstance) processScan(ctx context.Context, t *asynq.Task) error {
	return b.scanhive.ProcessScan(ctx, t)
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.ScanQueue, i)
		queues[queueName] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *scanhiveInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.ScanQueue, i)
		mux.HandleFunc(queueName, b.processScan)
	}
}

// startReconcileLoop periodically requeues scans stuck in a non-terminal
// status, whether the broker lost the task or a worker died mid-attempt,
// until the context is cancelled.
func startReconcileLoop(ctx context.Context, b *scanhiveInstance) {
	ticker := time.NewTicker(reconcileInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				requeued, err := b.scanhive.ReconcileStaleScans(ctx, staleScanCutoff, 100)
				if err != nil {
					logrus.Errorf("reconcile sweep failed: %v", err)
					continue
				}
				if requeued > 0 {
					logrus.Infof("reconcile sweep requeued %d stale scans", requeued)
				}
			}
		}
	}()
}

// workerCommands defines the "workers" command to start scan executor
// processes. The workers listen on the sharded scan queues and serve an
// asynqmon monitoring UI alongside.
func workerCommands(b *scanhiveInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start scanhive workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			startReconcileLoop(ctx, b)

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}

// reconcileCommands defines a one-shot sweep for operators who need to
// requeue lost scans without keeping a worker running.
func reconcileCommands(b *scanhiveInstance) *cobra.Command {
	var olderThan time.Duration
	var limit int

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "requeue stale scans whose queue task or worker was lost",
		Run: func(cmd *cobra.Command, args []string) {
			requeued, err := b.scanhive.ReconcileStaleScans(context.Background(), olderThan, limit)
			if err != nil {
				logrus.Error(err)
				return
			}
			logrus.Infof("requeued %d stale scans", requeued)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", staleScanCutoff, "only requeue scans stuck longer than this")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of scans to requeue in one sweep")

	return cmd
}
