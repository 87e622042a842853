// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

// Package tmux provides a typed interface to a dedicated tmux server.
// Glasspane runs its own tmux server (distinct from any personal tmux
// the user may run) so that agent processes survive daemon restarts.
// All operations target a specific server socket — the -S flag is
// injected on every command, so it is structurally impossible to
// address the wrong server or forget the socket.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Server represents a tmux server identified by its Unix socket path.
//
// Glasspane production servers are always created with configFile
// "/dev/null" so the user's ~/.tmux.conf never alters session
// behavior. Tests use the same setting.
type Server struct {
	socketPath string
	configFile string // passed as "-f <path>" on new-session; empty = tmux default
}

// NewServer returns a Server targeting the given socket path.
// Pass "/dev/null" as configFile to prevent loading any user config;
// an empty configFile lets tmux apply its normal config resolution,
// which is almost never what glasspane wants.
func NewServer(socketPath, configFile string) *Server {
	return &Server{socketPath: socketPath, configFile: configFile}
}

// SocketPath returns the Unix socket path identifying this server.
func (s *Server) SocketPath() string { return s.socketPath }

// NewSession creates a detached session running the given command in
// workingDirectory. Extra environment variables are injected with -e
// so the agent process sees them without polluting the server
// environment. The -f flag is passed here because new-session may be
// the command that starts the server, and only server startup reads
// the config file.
func (s *Server) NewSession(sessionName, workingDirectory string, environment []string, command ...string) error {
	var args []string
	if s.configFile != "" {
		args = append(args, "-f", s.configFile)
	}
	args = append(args, "-S", s.socketPath, "new-session", "-d", "-s", sessionName)
	if workingDirectory != "" {
		args = append(args, "-c", workingDirectory)
	}
	for _, variable := range environment {
		args = append(args, "-e", variable)
	}
	args = append(args, command...)

	cmd := exec.Command("tmux", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux new-session %q: %w (%s)",
			sessionName, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// HasSession reports whether a session with the given name exists on
// this server. Returns false if the server is not running.
func (s *Server) HasSession(sessionName string) bool {
	cmd := exec.Command("tmux", "-S", s.socketPath, "has-session", "-t", sessionName)
	return cmd.Run() == nil
}

// KillSession terminates a session. Returns nil if the session was
// already gone or the server was not running — both are normal during
// cleanup, not errors.
func (s *Server) KillSession(sessionName string) error {
	cmd := exec.Command("tmux", "-S", s.socketPath, "kill-session", "-t", sessionName)
	output, err := cmd.CombinedOutput()
	if err != nil {
		outputString := strings.TrimSpace(string(output))
		if strings.Contains(outputString, "can't find session") ||
			strings.Contains(outputString, "no server running") {
			return nil
		}
		return fmt.Errorf("tmux kill-session %q: %w (%s)", sessionName, err, outputString)
	}
	return nil
}

// KillServer terminates the entire server and every session on it.
// Returns nil if the server was already stopped. The "server exited
// unexpectedly" message appears when the socket file lingers briefly
// after the server process has exited; it is benign here.
func (s *Server) KillServer() error {
	cmd := exec.Command("tmux", "-S", s.socketPath, "kill-server")
	output, err := cmd.CombinedOutput()
	if err != nil {
		outputString := strings.TrimSpace(string(output))
		if strings.Contains(outputString, "no server running") ||
			strings.Contains(outputString, "server exited unexpectedly") {
			return nil
		}
		return fmt.Errorf("tmux kill-server: %w (%s)", err, outputString)
	}
	return nil
}

// ListSessions returns the names of all sessions on this server.
// Returns an empty slice if the server is not running.
func (s *Server) ListSessions() ([]string, error) {
	cmd := exec.Command("tmux", "-S", s.socketPath, "list-sessions", "-F", "#{session_name}")
	output, err := cmd.CombinedOutput()
	if err != nil {
		outputString := strings.TrimSpace(string(output))
		if strings.Contains(outputString, "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w (%s)", err, outputString)
	}
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// PanePID returns the PID of the process running in the session's
// active pane. This is the agent process for sessions glasspane
// creates (one window, one pane).
func (s *Server) PanePID(sessionName string) (int, error) {
	output, err := s.Run("display-message", "-p", "-t", sessionName, "#{pane_pid}")
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return 0, fmt.Errorf("parse pane PID %q: %w", output, err)
	}
	return pid, nil
}

// PaneDead reports whether the session's pane process has exited.
// Requires remain-on-exit to be set for the answer to be observable;
// without it tmux destroys the pane (and session) on exit and
// HasSession is the right check instead.
func (s *Server) PaneDead(sessionName string) (bool, error) {
	output, err := s.Run("display-message", "-p", "-t", sessionName, "#{pane_dead}")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(output) == "1", nil
}

// SetOption sets a tmux option. An empty sessionName sets the option
// globally (-g) for all sessions on this server.
func (s *Server) SetOption(sessionName, key, value string) error {
	var args []string
	if sessionName == "" {
		args = []string{"set-option", "-g", key, value}
	} else {
		args = []string{"set-option", "-t", sessionName, key, value}
	}
	if _, err := s.Run(args...); err != nil {
		return fmt.Errorf("tmux set-option %q=%q (session %q): %w", key, value, sessionName, err)
	}
	return nil
}

// Run executes an arbitrary tmux command on this server and returns
// its combined output.
func (s *Server) Run(args ...string) (string, error) {
	cmd := s.Command(args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w (%s)",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Command returns an exec.Cmd for a tmux command on this server with
// the -S flag already injected. Callers that need to wire the command
// to a PTY (the multiplexer attach path) use this rather than Run.
func (s *Server) Command(args ...string) *exec.Cmd {
	full := append([]string{"-S", s.socketPath}, args...)
	return exec.Command("tmux", full...)
}

// CommandContext is Command with context cancellation.
func (s *Server) CommandContext(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{"-S", s.socketPath}, args...)
	return exec.CommandContext(ctx, "tmux", full...)
}

// AttachArgs builds the argument list for attaching to a session.
// readOnly attaches with -r so the attachment cannot inject input.
func AttachArgs(sessionName string, readOnly bool) []string {
	args := []string{"attach-session"}
	if readOnly {
		args = append(args, "-r")
	}
	return append(args, "-t", sessionName)
}
