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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanhive/scanhive/model"
)

// fakeBus is an in-memory EventBus for gateway and executor tests. Each
// Subscribe call gets its own channel; Publish fans out to every subscriber
// of the event's scan.
type fakeBus struct {
	mu        sync.Mutex
	subs      map[string][]chan model.LifecycleEvent
	published []model.LifecycleEvent
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: map[string][]chan model.LifecycleEvent{}}
}

func (b *fakeBus) Publish(_ context.Context, event *model.LifecycleEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now()
	}
	b.published = append(b.published, *event)
	for _, ch := range b.subs[event.ScanID] {
		ch <- *event
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, scanID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan model.LifecycleEvent, 16)
	b.subs[scanID] = append(b.subs[scanID], ch)

	var once sync.Once
	return &Subscription{
		C: ch,
		close: func() {
			once.Do(func() {
				b.mu.Lock()
				defer b.mu.Unlock()
				remaining := b.subs[scanID][:0]
				for _, c := range b.subs[scanID] {
					if c != ch {
						remaining = append(remaining, c)
					}
				}
				b.subs[scanID] = remaining
				close(ch)
			})
		},
	}, nil
}

func (b *fakeBus) subscriberCount(scanID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[scanID])
}

func (b *fakeBus) publishedKinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	kinds := make([]string, 0, len(b.published))
	for _, e := range b.published {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// fakeConn records written events and satisfies the gateway's Conn interface.
type fakeConn struct {
	mu        sync.Mutex
	events    []model.LifecycleEvent
	closed    bool
	failWrite bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite {
		return errors.New("broken pipe")
	}
	if event, ok := v.(model.LifecycleEvent); ok {
		c.events = append(c.events, event)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []model.LifecycleEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.LifecycleEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestGatewayFirstViewerStartsFeed(t *testing.T) {
	bus := newFakeBus()
	gateway := NewGateway(bus)

	conn := &fakeConn{}
	require.NoError(t, gateway.Register("scan_1", conn))

	assert.Equal(t, 1, bus.subscriberCount("scan_1"))
	assert.Equal(t, 1, gateway.ListenerCount())
	assert.Equal(t, 1, gateway.ViewerCount("scan_1"))

	// A second viewer shares the existing feed.
	second := &fakeConn{}
	require.NoError(t, gateway.Register("scan_1", second))
	assert.Equal(t, 1, bus.subscriberCount("scan_1"))
	assert.Equal(t, 2, gateway.ViewerCount("scan_1"))
}

func TestGatewayFansOutToAllViewers(t *testing.T) {
	bus := newFakeBus()
	gateway := NewGateway(bus)

	first := &fakeConn{}
	second := &fakeConn{}
	require.NoError(t, gateway.Register("scan_1", first))
	require.NoError(t, gateway.Register("scan_1", second))

	err := bus.Publish(context.Background(), &model.LifecycleEvent{
		ScanID: "scan_1",
		Kind:   model.EventScanStarted,
		Status: model.StatusProcessing,
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(first.received()) == 1 && len(second.received()) == 1 })
	assert.Equal(t, model.EventScanStarted, first.received()[0].Kind)
	assert.Equal(t, model.EventScanStarted, second.received()[0].Kind)
}

func TestGatewayLastViewerStopsFeed(t *testing.T) {
	bus := newFakeBus()
	gateway := NewGateway(bus)

	first := &fakeConn{}
	second := &fakeConn{}
	require.NoError(t, gateway.Register("scan_1", first))
	require.NoError(t, gateway.Register("scan_1", second))

	gateway.Unregister("scan_1", first)
	assert.Equal(t, 1, gateway.ViewerCount("scan_1"))
	assert.Equal(t, 1, bus.subscriberCount("scan_1"))

	gateway.Unregister("scan_1", second)
	assert.Equal(t, 0, gateway.ListenerCount())
	waitFor(t, func() bool { return bus.subscriberCount("scan_1") == 0 })

	// Unregister does not close connections the caller still owns.
	assert.False(t, second.isClosed())
}

func TestGatewayTerminalEventClosesViewers(t *testing.T) {
	bus := newFakeBus()
	gateway := NewGateway(bus)

	conn := &fakeConn{}
	require.NoError(t, gateway.Register("scan_1", conn))

	err := bus.Publish(context.Background(), &model.LifecycleEvent{
		ScanID: "scan_1",
		Kind:   model.EventScanSucceeded,
		Status: model.StatusSuccess,
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return conn.isClosed() })
	assert.Len(t, conn.received(), 1)
	assert.Equal(t, 0, gateway.ListenerCount())
	assert.Equal(t, 0, bus.subscriberCount("scan_1"))
}

func TestGatewayTerminalEventReachesEveryViewer(t *testing.T) {
	bus := newFakeBus()
	gateway := NewGateway(bus)

	first := &fakeConn{}
	second := &fakeConn{}
	require.NoError(t, gateway.Register("scan_1", first))
	require.NoError(t, gateway.Register("scan_1", second))

	require.NoError(t, bus.Publish(context.Background(), &model.LifecycleEvent{
		ScanID: "scan_1",
		Kind:   model.EventScanProgress,
		Status: model.StatusProcessing,
	}))
	require.NoError(t, bus.Publish(context.Background(), &model.LifecycleEvent{
		ScanID: "scan_1",
		Kind:   model.EventScanFailed,
		Status: model.StatusFailed,
		Error:  "no records for target",
	}))

	waitFor(t, func() bool { return first.isClosed() && second.isClosed() })

	// Both viewers saw the same ordered stream.
	require.Len(t, first.received(), 2)
	require.Len(t, second.received(), 2)
	for i, event := range first.received() {
		assert.Equal(t, event.Kind, second.received()[i].Kind)
	}
	assert.Equal(t, model.EventScanFailed, first.received()[1].Kind)
	assert.Equal(t, 0, gateway.ListenerCount())
}

func TestGatewayDropsFailingViewer(t *testing.T) {
	bus := newFakeBus()
	gateway := NewGateway(bus)

	healthy := &fakeConn{}
	broken := &fakeConn{failWrite: true}
	require.NoError(t, gateway.Register("scan_1", healthy))
	require.NoError(t, gateway.Register("scan_1", broken))

	err := bus.Publish(context.Background(), &model.LifecycleEvent{
		ScanID: "scan_1",
		Kind:   model.EventScanProgress,
		Status: model.StatusProcessing,
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return broken.isClosed() })
	assert.Equal(t, 1, gateway.ViewerCount("scan_1"))
	waitFor(t, func() bool { return len(healthy.received()) == 1 })
	assert.False(t, healthy.isClosed())
}

func TestGatewayShutdownClosesEverything(t *testing.T) {
	bus := newFakeBus()
	gateway := NewGateway(bus)

	first := &fakeConn{}
	second := &fakeConn{}
	require.NoError(t, gateway.Register("scan_1", first))
	require.NoError(t, gateway.Register("scan_2", second))
	assert.Equal(t, 2, gateway.ListenerCount())

	gateway.Shutdown()

	assert.Equal(t, 0, gateway.ListenerCount())
	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())
}
