// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"

	"github.com/glasspane/glasspane/session"
)

// Hello opens every connection. The daemon answers with its own Hello
// inside a FrameOK, or a version-mismatch FrameError.
type Hello struct {
	Version int `json:"version"`
}

// StartRequest asks the daemon to launch (or idempotently return) a
// session.
type StartRequest struct {
	ID                string `json:"id,omitempty"`
	WorkingDirectory  string `json:"workingDirectory"`
	BypassPermissions bool   `json:"bypassPermissions,omitempty"`
	IsBackground      bool   `json:"isBackground,omitempty"`
	OwnerID           string `json:"ownerId,omitempty"`
	Sandboxed         bool   `json:"sandboxed,omitempty"`
	Resume            bool   `json:"resume,omitempty"`
	ResumeToken       string `json:"resumeToken,omitempty"`
	ContinueLast      bool   `json:"continueLast,omitempty"`
	UseMultiplexer    bool   `json:"useMultiplexer,omitempty"`
	ReconnectTarget   string `json:"reconnectTarget,omitempty"`
	Columns           uint16 `json:"columns,omitempty"`
	Rows              uint16 `json:"rows,omitempty"`
}

// StartResponse is the FrameOK payload for FrameStart.
type StartResponse struct {
	ID             string `json:"id"`
	PID            int    `json:"pid"`
	IsBackground   bool   `json:"isBackground"`
	Resumed        bool   `json:"resumed"`
	AlreadyRunning bool   `json:"alreadyRunning"`
}

// AttachRequest subscribes the connection to a session's event
// stream. After the FrameOK the daemon sends FrameEvent frames until
// the session completes or the client sends FrameDetach.
type AttachRequest struct {
	SessionID string `json:"sessionId"`
}

// InputRequest forwards terminal input to a session.
type InputRequest struct {
	SessionID string `json:"sessionId"`
	Data      []byte `json:"data"`
}

// ResizeRequest sets a session's terminal dimensions.
type ResizeRequest struct {
	SessionID string `json:"sessionId"`
	Columns   uint16 `json:"columns"`
	Rows      uint16 `json:"rows"`
}

// StopRequest ends a session.
type StopRequest struct {
	SessionID        string `json:"sessionId"`
	RemoveFromLedger bool   `json:"removeFromLedger,omitempty"`
	KillMultiplexer  bool   `json:"killMultiplexer,omitempty"`
}

// ListResponse is the FrameOK payload for FrameList.
type ListResponse struct {
	Sessions []session.SessionInfo `json:"sessions"`
}

// Error codes carried in ErrorResponse, stable across daemon versions
// so clients can branch without string matching.
const (
	CodeInvalid    = "invalid"
	CodeNotFound   = "not_found"
	CodeGone       = "gone"
	CodeNotRunning = "not_running"
	CodePathDenied = "path_denied"
	CodeNoBinary   = "binary_not_found"
	CodeRejected   = "input_rejected"
	CodeInternal   = "internal"
)

// ErrorResponse is the FrameError payload.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Categories is set for CodeRejected: the security gate's matched
	// rejection classes.
	Categories []string `json:"categories,omitempty"`
}

// NewErrorResponse maps an engine error onto the wire taxonomy.
func NewErrorResponse(err error) ErrorResponse {
	response := ErrorResponse{Code: CodeInternal, Message: err.Error()}

	var (
		invalid  *session.ValidationError
		denied   *session.PathDeniedError
		noBinary *session.BinaryNotFoundError
		rejected *session.RejectedError
	)
	switch {
	case errors.As(err, &invalid):
		response.Code = CodeInvalid
	case errors.As(err, &denied):
		response.Code = CodePathDenied
	case errors.As(err, &noBinary):
		response.Code = CodeNoBinary
	case errors.As(err, &rejected):
		response.Code = CodeRejected
		response.Categories = rejected.Categories
	case errors.Is(err, session.ErrNotFound):
		response.Code = CodeNotFound
	case errors.Is(err, session.ErrGone):
		response.Code = CodeGone
	case errors.Is(err, session.ErrNotRunning), errors.Is(err, session.ErrProcessExited):
		response.Code = CodeNotRunning
	}
	return response
}
