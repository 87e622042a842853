// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

// Glasspane-attach connects a local terminal to a glasspaned session:
// raw mode, stdin forwarding, SIGWINCH-driven resizes, and scrollback
// replay on connect.
//
// Usage:
//
//	glasspane-attach [--socket PATH] SESSION-ID
//	glasspane-attach [--socket PATH] --list
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/glasspane/glasspane/lib/config"
	"github.com/glasspane/glasspane/lib/version"
	"github.com/glasspane/glasspane/session"
	"github.com/glasspane/glasspane/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var socketPath string
	var list bool
	var showVersion bool

	flagSet := pflag.NewFlagSet("glasspane-attach", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", "", "daemon control socket (default from config)")
	flagSet.BoolVar(&list, "list", false, "list sessions instead of attaching")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("glasspane-attach %s\n", version.Info())
		return nil
	}

	if socketPath == "" {
		socketPath = config.Default().SocketPath
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to glasspaned at %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := handshake(conn); err != nil {
		return err
	}

	if list {
		return printSessions(conn)
	}

	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: glasspane-attach [--socket PATH] SESSION-ID")
	}
	return attach(conn, flagSet.Arg(0))
}

func handshake(conn net.Conn) error {
	if err := wire.WriteFrame(conn, wire.FrameHello, wire.Hello{Version: wire.ProtocolVersion}); err != nil {
		return err
	}
	frameType, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if frameType == wire.FrameError {
		return decodeError(payload)
	}
	return nil
}

func decodeError(payload []byte) error {
	var response wire.ErrorResponse
	if err := wire.DecodePayload(payload, &response); err != nil {
		return err
	}
	return fmt.Errorf("%s: %s", response.Code, response.Message)
}

func printSessions(conn net.Conn) error {
	if err := wire.WriteFrame(conn, wire.FrameList, nil); err != nil {
		return err
	}
	frameType, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if frameType == wire.FrameError {
		return decodeError(payload)
	}
	var response wire.ListResponse
	if err := wire.DecodePayload(payload, &response); err != nil {
		return err
	}
	if len(response.Sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, info := range response.Sessions {
		marker := " "
		if info.Active {
			marker = "*"
		}
		fmt.Printf("%s %-40s %-10s viewers=%d last=%s %s\n",
			marker, info.ID, info.Status, info.Viewers,
			info.LastActivityAt.Format(time.RFC3339), info.WorkingDirectory)
	}
	return nil
}

func attach(conn net.Conn, sessionID string) error {
	if err := wire.WriteFrame(conn, wire.FrameAttach, wire.AttachRequest{SessionID: sessionID}); err != nil {
		return err
	}
	frameType, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if frameType == wire.FrameError {
		return decodeError(payload)
	}

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		state, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("enter raw mode: %w", err)
		}
		defer term.Restore(stdinFd, state)
	}

	// Resize and input frames come from separate goroutines; writes
	// to the socket must not interleave mid-frame.
	var writeMu sync.Mutex
	writeFrame := func(frameType wire.FrameType, payload any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return wire.WriteFrame(conn, frameType, payload)
	}

	// Size the remote PTY to the local terminal, now and on every
	// SIGWINCH.
	sendResize := func() {
		size, err := unix.IoctlGetWinsize(stdinFd, unix.TIOCGWINSZ)
		if err != nil {
			return
		}
		writeFrame(wire.FrameResize, wire.ResizeRequest{
			SessionID: sessionID,
			Columns:   size.Col,
			Rows:      size.Row,
		})
	}
	sendResize()
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			sendResize()
		}
	}()

	// Forward stdin as input frames.
	go func() {
		buffer := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buffer)
			if n > 0 {
				if err := writeFrame(wire.FrameInput, wire.InputRequest{
					SessionID: sessionID,
					Data:      buffer[:n],
				}); err != nil {
					return
				}
			}
			if err != nil {
				writeFrame(wire.FrameDetach, nil)
				return
			}
		}
	}()

	// Relay the event stream to the terminal until the session
	// completes or the connection drops. Non-event frames are the
	// acks for our own input/resize requests.
	for {
		frameType, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return nil
		}
		if frameType != wire.FrameEvent {
			if frameType == wire.FrameError {
				fmt.Fprintf(os.Stderr, "\r\n%v\r\n", decodeError(payload))
			}
			continue
		}
		var event session.Event
		if err := wire.DecodePayload(payload, &event); err != nil {
			return err
		}
		switch event.Type {
		case session.EventOutput:
			os.Stdout.Write(event.Data)
		case session.EventResumeToken:
			// Silent: the daemon records it; viewers only care about
			// terminal bytes.
		case session.EventExit:
			if event.Signal != "" {
				fmt.Fprintf(os.Stderr, "\r\n[session killed by %s]\r\n", event.Signal)
			} else {
				fmt.Fprintf(os.Stderr, "\r\n[session exited with code %d]\r\n", event.ExitCode)
			}
		case session.EventComplete:
			return nil
		}
	}
}
