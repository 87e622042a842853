// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
)

// ProcessHandle is a thin wrapper around one PTY-backed child process.
// Data and exit notifications arrive on the callbacks supplied at
// launch; at most one handle is ever associated with a session record
// at a time.
type ProcessHandle interface {
	// PID returns the child's process id.
	PID() int

	// Write sends bytes to the process's terminal input. Returns
	// ErrProcessExited (possibly wrapped) once the process is gone.
	Write(data []byte) error

	// Resize sets the terminal dimensions. Returns ErrProcessExited
	// (possibly wrapped) once the process is gone.
	Resize(columns, rows uint16) error

	// Kill terminates the process. Idempotent; the exit callback
	// still fires exactly once.
	Kill() error
}

// LaunchSpec describes one process launch. OnData is invoked
// sequentially from a single reader goroutine with a chunk that is
// only valid for the duration of the call; OnExit fires exactly once
// after the final OnData.
type LaunchSpec struct {
	Command          []string
	WorkingDirectory string
	Environment      []string // appended to the inherited environment
	Columns          uint16
	Rows             uint16
	OnData           func(chunk []byte)
	OnExit           func(exitCode int, signal string)
}

// Launcher spawns PTY-backed processes. The orchestrator depends on
// this interface so tests can substitute a scripted fake.
type Launcher interface {
	Launch(spec LaunchSpec) (ProcessHandle, error)
}

// PTYLauncher launches real processes attached to a pseudo-terminal,
// so the wrapped CLI behaves as if run interactively: cursor control,
// color, and resize all work.
type PTYLauncher struct {
	Logger *slog.Logger
}

// Launch starts spec.Command on a fresh PTY.
func (l *PTYLauncher) Launch(spec LaunchSpec) (ProcessHandle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("launch: empty command")
	}

	// #nosec G204 -- the command is assembled by the orchestrator from
	// configured binaries and validated parameters, not raw user input.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = append(os.Environ(), spec.Environment...)

	columns, rows := spec.Columns, spec.Rows
	if columns == 0 {
		columns = 80
	}
	if rows == 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: columns, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start %s on pty: %w", spec.Command[0], err)
	}

	handle := &ptyHandle{
		cmd:    cmd,
		ptmx:   ptmx,
		logger: l.Logger,
	}
	go handle.readLoop(spec.OnData, spec.OnExit)
	return handle, nil
}

// ptyHandle is the real ProcessHandle implementation.
type ptyHandle struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	logger *slog.Logger

	exited   atomic.Bool
	killOnce sync.Once
}

func (h *ptyHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *ptyHandle) Write(data []byte) error {
	if h.exited.Load() {
		return ErrProcessExited
	}
	if _, err := h.ptmx.Write(data); err != nil {
		return fmt.Errorf("write to pty: %w (%w)", err, ErrProcessExited)
	}
	return nil
}

func (h *ptyHandle) Resize(columns, rows uint16) error {
	if h.exited.Load() {
		return ErrProcessExited
	}
	if err := pty.Setsize(h.ptmx, &pty.Winsize{Cols: columns, Rows: rows}); err != nil {
		return fmt.Errorf("resize pty: %w (%w)", err, ErrProcessExited)
	}
	return nil
}

func (h *ptyHandle) Kill() error {
	h.killOnce.Do(func() {
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
	})
	return nil
}

// readLoop pumps PTY output into onData until EOF, then reaps the
// child and fires onExit exactly once. A PTY read returns EIO when the
// child exits; that is the normal end of stream, not an error.
func (h *ptyHandle) readLoop(onData func([]byte), onExit func(int, string)) {
	buffer := make([]byte, 32*1024)
	for {
		n, err := h.ptmx.Read(buffer)
		if n > 0 && onData != nil {
			onData(buffer[:n])
		}
		if err != nil {
			break
		}
	}

	h.exited.Store(true)
	waitErr := h.cmd.Wait()
	_ = h.ptmx.Close()

	exitCode, signal := exitDetail(waitErr)
	if h.logger != nil {
		h.logger.Debug("process exited",
			"pid", h.PID(), "exit_code", exitCode, "signal", signal)
	}
	if onExit != nil {
		onExit(exitCode, signal)
	}
}

// exitDetail extracts the exit code and signal name from a Wait error.
// A signal death reports exit code -1 and the signal's name.
func exitDetail(waitErr error) (exitCode int, signal string) {
	if waitErr == nil {
		return 0, ""
	}
	var exitError *exec.ExitError
	if errors.As(waitErr, &exitError) {
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return -1, status.Signal().String()
		}
		return exitError.ExitCode(), ""
	}
	return -1, ""
}

// ResolveBinary locates binary by probing searchPaths in order — the
// first existing file wins — before falling back to PATH lookup.
// A miss everywhere returns *BinaryNotFoundError: a startup error for
// the caller, never a crash.
func ResolveBinary(binary string, searchPaths []string) (string, error) {
	if filepath.IsAbs(binary) {
		if _, err := os.Stat(binary); err == nil {
			return binary, nil
		}
		return "", &BinaryNotFoundError{Binary: binary, Searched: []string{binary}}
	}
	for _, dir := range searchPaths {
		candidate := filepath.Join(dir, binary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(binary); err == nil {
		return path, nil
	}
	return "", &BinaryNotFoundError{Binary: binary, Searched: searchPaths}
}

// AgentEnvironment returns the environment overrides for an agent
// launch: PATH extended with the known install locations, a forced
// UTF-8 locale, and a 256-color terminal type so the wrapped CLI
// renders consistently regardless of the host environment.
func AgentEnvironment(searchPaths []string) []string {
	path := os.Getenv("PATH")
	for _, dir := range searchPaths {
		path = path + string(os.PathListSeparator) + dir
	}
	return []string{
		"PATH=" + path,
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
		"TERM=xterm-256color",
	}
}
