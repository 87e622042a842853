// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glasspane/glasspane/lib/clock"
)

// DefaultSubscriberBuffer is the default per-viewer event channel
// depth. A viewer that falls this far behind the process's output is
// disconnected rather than allowed to stall the broadcast for others.
const DefaultSubscriberBuffer = 256

// Hub fans one session's event stream out to N attached viewers. It is
// owned by exactly one Record; no cross-session locking exists.
//
// Publish delivers to a snapshot of the current subscribers, so a
// subscriber removing itself mid-dispatch (a write failure racing a
// client disconnect) never corrupts iteration.
type Hub struct {
	clock             clock.Clock
	keepaliveInterval time.Duration

	mu          sync.Mutex
	subscribers map[string]*Subscription
	closed      bool
	bufferSize  int
}

// NewHub creates a hub whose subscriptions buffer bufferSize pending
// events each and receive a keepalive every keepaliveInterval. A zero
// interval disables keepalives (used by tests that drive time
// manually).
func NewHub(bufferSize int, clk clock.Clock, keepaliveInterval time.Duration) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Hub{
		clock:             clk,
		keepaliveInterval: keepaliveInterval,
		subscribers:       make(map[string]*Subscription),
		bufferSize:        bufferSize,
	}
}

// Subscription is one viewer's attachment to a session stream. It is
// ephemeral: it never outlives the viewer's connection, and Close is
// safe to call repeatedly and concurrently with dispatch.
type Subscription struct {
	id  string
	hub *Hub

	mu     sync.Mutex
	closed bool
	events chan Event
	done   chan struct{}
}

// Events returns the viewer's event channel. The channel is closed
// when the subscription ends — after a final EventComplete when the
// session itself tore down.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done returns a channel closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close detaches the viewer. Idempotent; safe from the viewer's own
// error path while a publish is in flight. Closing a viewer never
// terminates the underlying process.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	close(s.events)
	s.mu.Unlock()

	s.hub.remove(s.id)
}

// send queues an event without blocking. Returns false when the
// buffer is full (the viewer has stalled); sends after Close are
// silently dropped.
func (s *Subscription) send(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

// Subscribe attaches a new viewer. The initial events (connected,
// status, replay) are queued before the subscription is exposed to
// live publishes; the caller serializes this against output ingestion
// so the replay-to-live splice has no gap and no duplicates.
//
// Returns nil if the hub has already been closed by session teardown.
func (h *Hub) Subscribe(initial []Event) *Subscription {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	sub := &Subscription{
		id:     uuid.NewString(),
		hub:    h,
		events: make(chan Event, h.bufferSize),
		done:   make(chan struct{}),
	}
	for _, event := range initial {
		sub.send(event)
	}
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	if h.keepaliveInterval > 0 && h.clock != nil {
		go sub.keepaliveLoop(h.clock, h.keepaliveInterval)
	}
	return sub
}

// Publish delivers event to every current subscriber in order. A
// subscriber whose buffer is full is disconnected: slow or broken
// viewers must never stall the process-event pipeline for others or
// for other sessions.
func (h *Hub) Publish(event Event) {
	for _, sub := range h.snapshot() {
		if !sub.send(event) {
			sub.Close()
		}
	}
}

// CloseAll emits final on every subscriber, then closes them all and
// refuses future subscriptions. Called at session teardown so every
// viewer observes "session ended" rather than a bare connection drop.
func (h *Hub) CloseAll(final Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	for _, sub := range h.snapshot() {
		sub.send(final)
		sub.Close()
	}
}

// SubscriberCount returns the number of attached viewers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// snapshot copies the subscriber list so dispatch never iterates the
// live map while removals happen.
func (h *Hub) snapshot() []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*Subscription, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

// remove detaches a subscription from the hub's map. Idempotent.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, id)
}

// keepaliveLoop emits EventKeepalive until the subscription ends. A
// full buffer drops the keepalive — the viewer has real events queued,
// which serve the same liveness purpose.
func (s *Subscription) keepaliveLoop(clk clock.Clock, interval time.Duration) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.send(Event{Type: EventKeepalive})
		case <-s.done:
			return
		}
	}
}
