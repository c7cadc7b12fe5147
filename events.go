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
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/scanhive/scanhive/model"
)

// ScanEventChannel is the pub/sub channel carrying lifecycle events for one scan.
func ScanEventChannel(scanID string) string {
	return fmt.Sprintf("scan.events.%s", scanID)
}

// EventBus carries scan lifecycle events from executors to live subscribers.
// Publishing is fire-and-forget: events are transient and only reach
// subscribers connected at publish time. The durable scan record is the
// source of truth, not the bus.
type EventBus interface {
	Publish(ctx context.Context, event *model.LifecycleEvent) error
	Subscribe(ctx context.Context, scanID string) (*Subscription, error)
}

// Subscription is one live feed of a scan's lifecycle events.
type Subscription struct {
	C     <-chan model.LifecycleEvent
	close func()
}

// Close tears down the subscription and its receive loop.
func (s *Subscription) Close() {
	s.close()
}

// RedisEventBus implements EventBus over Redis pub/sub.
type RedisEventBus struct {
	client redis.UniversalClient
}

func NewRedisEventBus(client redis.UniversalClient) *RedisEventBus {
	return &RedisEventBus{client: client}
}

// Publish emits a lifecycle event on the scan's channel. Events to channels
// with no subscribers are dropped by Redis, which is the intended behavior.
func (b *RedisEventBus) Publish(ctx context.Context, event *model.LifecycleEvent) error {
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, ScanEventChannel(event.ScanID), payload).Err()
}

// Subscribe opens a live feed for one scan. The returned subscription's
// channel is closed when Close is called or the context ends; events that
// fail to decode are logged and skipped.
func (b *RedisEventBus) Subscribe(ctx context.Context, scanID string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, ScanEventChannel(scanID))
	// Force the subscription to be established before returning so callers
	// never miss events published right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan model.LifecycleEvent, 16)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event model.LifecycleEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logrus.Errorf("dropping undecodable scan event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var closeOnce sync.Once
	return &Subscription{
		C: out,
		close: func() {
			closeOnce.Do(func() {
				close(done)
				_ = pubsub.Close()
			})
		},
	}, nil
}
