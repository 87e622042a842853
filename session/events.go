// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

// EventType identifies a stream event delivered to attached viewers.
type EventType string

const (
	// EventConnected is always the first event on a new attachment.
	EventConnected EventType = "connected"

	// EventStatus carries the session's current lifecycle status. It
	// is always the second event on a new attachment and is re-sent
	// on every status transition.
	EventStatus EventType = "status"

	// EventOutput carries a raw terminal output chunk. The Replayed
	// flag marks the initial ring buffer dump sent to a viewer that
	// attached mid-session.
	EventOutput EventType = "output"

	// EventResumeToken fires once per session when the wrapped CLI's
	// self-reported resume identifier is first extracted.
	EventResumeToken EventType = "resumeTokenDiscovered"

	// EventExit reports process termination with exit detail.
	EventExit EventType = "exit"

	// EventComplete is the terminal event on every stream: the viewer
	// can distinguish "session ended" from "connection dropped"
	// because teardown always emits it before subscribers are removed.
	EventComplete EventType = "complete"

	// EventKeepalive is emitted on a fixed interval so transport idle
	// timeouts do not sever healthy attachments. Carries no payload.
	EventKeepalive EventType = "keepalive"
)

// Event is one message on an attached viewer's stream.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`

	// Status is set for EventStatus and EventConnected.
	Status Status `json:"status,omitempty"`

	// Data and Replayed are set for EventOutput.
	Data     []byte `json:"data,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`

	// ResumeToken is set for EventResumeToken.
	ResumeToken string `json:"resumeToken,omitempty"`

	// ExitCode and Signal are set for EventExit. ExitCode is -1 when
	// the process died to a signal.
	ExitCode int    `json:"exitCode,omitempty"`
	Signal   string `json:"signal,omitempty"`
}
