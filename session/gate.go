// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "context"

// PathPolicy decides whether a working directory may host a session.
// Implementations typically enforce a sandbox root or an allowlist of
// project directories. The engine consults it once per launch, before
// any process is spawned.
type PathPolicy interface {
	CheckPath(ctx context.Context, dir string) error
}

// GateDecision is the outcome of inspecting one input write.
// Categories names the matched rejection classes when Allowed is
// false; it is recorded verbatim in the audit trail and in the error
// returned to the caller.
type GateDecision struct {
	Allowed    bool
	Categories []string
}

// InputGate screens input before it reaches a sandboxed session's
// terminal; trusted sessions bypass it entirely. A rejection is
// authoritative: not a single byte of the write may reach the
// process.
type InputGate interface {
	Inspect(ctx context.Context, input []byte) (GateDecision, error)
}

// AuditSink receives a record of every rejected input write. Sink
// failures are logged, never propagated: auditing must not turn a
// rejection into a second failure mode.
type AuditSink interface {
	RecordRejectedInput(sessionID, ownerID string, categories []string)
}

// AllowAllPolicy permits every working directory. It is the default
// when no sandbox policy is configured.
type AllowAllPolicy struct{}

func (AllowAllPolicy) CheckPath(ctx context.Context, dir string) error { return nil }

// AllowAllGate permits every input write.
type AllowAllGate struct{}

func (AllowAllGate) Inspect(ctx context.Context, input []byte) (GateDecision, error) {
	return GateDecision{Allowed: true}, nil
}

// NopAudit discards audit records.
type NopAudit struct{}

func (NopAudit) RecordRejectedInput(sessionID, ownerID string, categories []string) {}
