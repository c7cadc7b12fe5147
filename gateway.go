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
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/scanhive/scanhive/model"
)

// Conn is the viewer side of a live scan feed. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// watch is the fan-out state for one scan with at least one viewer.
type watch struct {
	sub    *Subscription
	conns  map[Conn]struct{}
	cancel context.CancelFunc
}

// Gateway fans scan lifecycle events out to live viewers. It holds exactly
// one bus subscription per watched scan no matter how many viewers are
// attached: the first viewer starts the feed, the last to leave stops it,
// and a terminal event stops it for everyone.
type Gateway struct {
	bus EventBus

	mu      sync.Mutex
	watches map[string]*watch
}

func NewGateway(bus EventBus) *Gateway {
	return &Gateway{
		bus:     bus,
		watches: map[string]*watch{},
	}
}

// Register attaches a viewer connection to a scan's live feed, starting the
// feed if this is the first viewer. The feed's lifetime belongs to the
// gateway, not to any one viewer's request, so no caller context is taken.
func (g *Gateway) Register(scanID string, conn Conn) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.watches[scanID]
	if !ok {
		watchCtx, cancel := context.WithCancel(context.Background())
		sub, err := g.bus.Subscribe(watchCtx, scanID)
		if err != nil {
			cancel()
			return err
		}
		w = &watch{sub: sub, conns: map[Conn]struct{}{}, cancel: cancel}
		g.watches[scanID] = w
		go g.forward(scanID, w)
	}
	w.conns[conn] = struct{}{}
	return nil
}

// Unregister detaches a viewer. When the last viewer leaves, the scan's bus
// subscription is closed so idle scans cost nothing.
func (g *Gateway) Unregister(scanID string, conn Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.watches[scanID]
	if !ok {
		return
	}
	delete(w.conns, conn)
	if len(w.conns) == 0 {
		g.stopWatchLocked(scanID, w, false)
	}
}

// forward is the per-scan fan-out loop. It runs until the subscription
// channel closes or a terminal event arrives.
func (g *Gateway) forward(scanID string, w *watch) {
	for event := range w.sub.C {
		g.broadcast(scanID, w, event)
		if event.IsTerminal() {
			g.mu.Lock()
			g.stopWatchLocked(scanID, w, true)
			g.mu.Unlock()
			return
		}
	}
}

// broadcast writes one event to every attached viewer, dropping connections
// that fail mid-write.
func (g *Gateway) broadcast(scanID string, w *watch, event model.LifecycleEvent) {
	g.mu.Lock()
	conns := make([]Conn, 0, len(w.conns))
	for conn := range w.conns {
		conns = append(conns, conn)
	}
	g.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			logrus.Warnf("dropping dead viewer for scan %s: %v", scanID, err)
			g.Unregister(scanID, conn)
			_ = conn.Close()
		}
	}
}

// stopWatchLocked tears down a watch. Callers must hold g.mu. When
// closeConns is set (terminal event), remaining viewers are closed too.
func (g *Gateway) stopWatchLocked(scanID string, w *watch, closeConns bool) {
	if current, ok := g.watches[scanID]; !ok || current != w {
		return
	}
	delete(g.watches, scanID)
	w.cancel()
	w.sub.Close()
	if closeConns {
		for conn := range w.conns {
			_ = conn.Close()
		}
		w.conns = map[Conn]struct{}{}
	}
}

// ListenerCount reports how many scans currently have a live feed.
func (g *Gateway) ListenerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.watches)
}

// ViewerCount reports how many viewers are attached to one scan.
func (g *Gateway) ViewerCount(scanID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w, ok := g.watches[scanID]; ok {
		return len(w.conns)
	}
	return 0
}

// Shutdown closes every feed and viewer connection.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for scanID, w := range g.watches {
		g.stopWatchLocked(scanID, w, true)
	}
}
