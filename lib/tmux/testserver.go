// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package tmux

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// NewTestServer creates an isolated tmux server for testing. The
// server uses a short /tmp socket path (Unix sockets cap at 108
// bytes), passes -f /dev/null so the user's ~/.tmux.conf never loads,
// and keeps itself alive with a guard session running "sleep infinity"
// (tmux exits when its last session ends). The server is killed when
// the test completes.
//
// Tests are skipped entirely when no tmux binary is installed.
func NewTestServer(t *testing.T) *Server {
	t.Helper()

	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}

	socketDir, err := os.MkdirTemp("/tmp", "gp-tmux-")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(socketDir) })

	server := NewServer(filepath.Join(socketDir, "tmux.sock"), "/dev/null")

	if err := server.NewSession("_guard", "", nil, "sleep", "infinity"); err != nil {
		t.Fatalf("start tmux test server: %v", err)
	}
	t.Cleanup(func() { server.KillServer() })

	return server
}
