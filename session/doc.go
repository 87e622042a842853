// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the terminal session orchestration
// engine: it spawns pseudo-terminal-backed CLI assistant processes,
// fans their output out to any number of concurrently attached
// viewers, persists session metadata across daemon restarts, and
// reclaims sessions nobody is watching anymore.
//
// The package is organized around the session data flow:
//
//   - handle.go: PTY-backed process spawning, write, resize, kill
//   - ringbuffer.go: bounded chunk history for replay to new viewers
//   - hub.go: per-session fan-out of output to attached subscribers
//   - record.go: the authoritative session state and its lifecycle lattice
//   - registry.go: in-memory map of live records
//   - resume.go: best-effort resume-token scraping from raw output
//   - ledger.go: durable JSON session metadata, restart-surviving
//   - snapshot.go: compressed scrollback snapshots for reattach
//   - multiplexer.go: tmux-backed process persistence across restarts
//   - orchestrator.go: the public start/attach/input/resize/stop API
//   - sweep.go: periodic retirement of abandoned sessions
//
// External collaborators — the HTTP/SSE transport, authentication,
// sandbox path policy, the prompt-injection gate, and the audit sink —
// are consumed through the interfaces in gate.go and never implemented
// here.
package session
