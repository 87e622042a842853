// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"

	"github.com/glasspane/glasspane/lib/clock"
)

// Status is a session's lifecycle state. Transitions follow a strict
// lattice: starting → (running|background) → stopped, with error
// reachable from any non-terminal state. stopped and error are
// terminal for the record's process pairing — continuing requires a
// new process and a new record, possibly reusing the same id and
// resume token.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusBackground Status = "background"
	StatusStopped    Status = "stopped"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusError
}

// canTransition reports whether the lattice permits from → to.
// Terminal states admit nothing; stopped in particular must never be
// overwritten back to running by a late-arriving output chunk.
func canTransition(from, to Status) bool {
	if from.IsTerminal() || from == to {
		return false
	}
	switch to {
	case StatusRunning, StatusBackground:
		return from == StatusStarting
	case StatusStopped, StatusError:
		return true
	default:
		return false
	}
}

// Record is the authoritative state object for one session. It is
// owned by the Registry while live; the Ledger owns a serialized
// projection. Identity and launch parameters are immutable after
// creation; everything else is guarded by mu.
type Record struct {
	// Immutable after creation.
	ID                string
	WorkingDirectory  string
	BypassPermissions bool
	IsBackground      bool
	Sandboxed         bool
	OwnerID           string
	StartedAt         time.Time

	mu                sync.Mutex
	status            Status
	statusChangedAt   time.Time
	lastActivityAt    time.Time
	pid               int
	resumeToken       string
	multiplexerHandle string
	handle            ProcessHandle
	finalized         bool
	removeTimer       *clock.Timer

	// streamMu serializes output ingestion against attachment so a
	// new viewer's replay-then-subscribe is atomic with respect to
	// concurrent publishes: no gap, no duplicate.
	streamMu sync.Mutex
	ring     *RingBuffer
	hub      *Hub
}

// Status returns the current lifecycle status.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// PID returns the supervised process id (the attach client's PID in
// multiplexer mode), or 0 before launch.
func (r *Record) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

// ResumeToken returns the extracted resume token, or "" if none has
// been seen yet.
func (r *Record) ResumeToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumeToken
}

// MultiplexerHandle returns the tmux session name backing this
// record, or "" when the multiplexer is not in use.
func (r *Record) MultiplexerHandle() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.multiplexerHandle
}

// LastActivityAt returns the time of the most recent inbound or
// outbound byte or status transition.
func (r *Record) LastActivityAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivityAt
}

// transition applies a lattice-checked status change. Returns false
// when the lattice forbids it (including any attempt to leave a
// terminal state). lastActivityAt advances on every applied change.
func (r *Record) transition(to Status, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !canTransition(r.status, to) {
		return false
	}
	r.status = to
	r.statusChangedAt = now
	r.lastActivityAt = now
	return true
}

// touchActivity records byte-level activity for the cleanup sweep.
func (r *Record) touchActivity(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivityAt = now
}

// setResumeToken records the token if none is set yet. Write-once:
// returns false without modifying anything when a token already
// exists, even if a matching pattern appears in later chunks.
func (r *Record) setResumeToken(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resumeToken != "" {
		return false
	}
	r.resumeToken = token
	return true
}

// needsResumeToken reports whether extraction should still run.
func (r *Record) needsResumeToken() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumeToken == ""
}
