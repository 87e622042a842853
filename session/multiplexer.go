// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/glasspane/glasspane/lib/tmux"
)

// Multiplexer backs sessions with a dedicated tmux server so the agent
// process group survives glasspane restarts. The engine never attaches
// the operator's personal tmux server: all sessions live on a private
// socket and carry a namespacing prefix, so cleanup can never touch
// foreign sessions.
//
// In multiplexer mode the process handle the engine supervises is a
// `tmux attach-session` client on a PTY. Killing that client detaches
// the viewer-facing stream while the agent keeps running inside tmux;
// killing the tmux session ends the agent itself. Stop chooses between
// the two based on configuration — earlier iterations of this policy
// flip-flopped, so it is an explicit setting rather than a hardcode.
type Multiplexer struct {
	server *tmux.Server
	prefix string
}

// NewMultiplexer wraps a dedicated tmux server. prefix namespaces all
// session names created through this multiplexer.
func NewMultiplexer(server *tmux.Server, prefix string) *Multiplexer {
	return &Multiplexer{server: server, prefix: prefix}
}

var handleSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// HandleName derives the tmux session name for a glasspane session id.
// tmux rejects dots and colons in session names; everything outside
// [a-zA-Z0-9_-] is squashed to underscores.
func (m *Multiplexer) HandleName(sessionID string) string {
	return m.prefix + handleSanitizer.ReplaceAllString(sessionID, "_")
}

// Owns reports whether a tmux session name was created by this
// multiplexer (carries its prefix).
func (m *Multiplexer) Owns(handleName string) bool {
	return strings.HasPrefix(handleName, m.prefix)
}

// CreateSession starts the agent command inside a new detached tmux
// session. The environment variables are injected into the agent's
// session only, not the tmux server.
func (m *Multiplexer) CreateSession(handleName, workingDirectory string, environment, command []string) error {
	if !m.Owns(handleName) {
		return fmt.Errorf("multiplexer handle %q lacks prefix %q", handleName, m.prefix)
	}
	if err := m.server.NewSession(handleName, workingDirectory, environment, command...); err != nil {
		return fmt.Errorf("create multiplexer session: %w", err)
	}
	return nil
}

// Exists reports whether the tmux session is still alive — the test
// that decides between reconnect and fresh spawn after a restart.
func (m *Multiplexer) Exists(handleName string) bool {
	return m.server.HasSession(handleName)
}

// Kill ends the tmux session and the agent inside it. Benign when the
// session is already gone.
func (m *Multiplexer) Kill(handleName string) error {
	return m.server.KillSession(handleName)
}

// AttachCommand returns the argv that attaches a PTY to the tmux
// session. The engine launches this through its normal Launcher, so
// the attach client is supervised exactly like a direct agent process.
func (m *Multiplexer) AttachCommand(handleName string) []string {
	args := append([]string{"tmux", "-S", m.server.SocketPath()}, tmux.AttachArgs(handleName, false)...)
	return args
}

// ListHandles returns the live tmux sessions owned by this
// multiplexer.
func (m *Multiplexer) ListHandles() ([]string, error) {
	names, err := m.server.ListSessions()
	if err != nil {
		return nil, err
	}
	var owned []string
	for _, name := range names {
		if m.Owns(name) {
			owned = append(owned, name)
		}
	}
	return owned, nil
}
