// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrNotFound means the session id is unknown to both the
	// registry and the ledger.
	ErrNotFound = errors.New("session not found")

	// ErrGone means the session exists in the ledger but has no live
	// process. It may be resumable: the caller can issue a new Start
	// with the same id and let the ledger's resume token carry the
	// conversational context forward.
	ErrGone = errors.New("session has no live process")

	// ErrNotRunning means the session's record is in a terminal
	// status and can no longer accept input or resize requests.
	ErrNotRunning = errors.New("session is not running")

	// ErrProcessExited is returned by process handle operations after
	// the underlying process has exited.
	ErrProcessExited = errors.New("process has exited")
)

// ValidationError reports a missing or malformed request field.
// Rejected before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PathDeniedError reports a working directory rejected by the sandbox
// path policy. Rejected before any process is spawned.
type PathDeniedError struct {
	Path   string
	Reason string
}

func (e *PathDeniedError) Error() string {
	return fmt.Sprintf("path %q denied: %s", e.Path, e.Reason)
}

// BinaryNotFoundError reports that the assistant binary could not be
// located at any candidate path nor on PATH.
type BinaryNotFoundError struct {
	Binary   string
	Searched []string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("binary %q not found (searched %s, then PATH)",
		e.Binary, strings.Join(e.Searched, ", "))
}

// RejectedError reports input blocked by the prompt-injection gate.
// Categories name the matched pattern classes for audit; the process
// received zero bytes of the rejected input.
type RejectedError struct {
	Categories []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("input rejected by security gate: %s", strings.Join(e.Categories, ", "))
}
