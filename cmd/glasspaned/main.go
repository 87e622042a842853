// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

// Glasspaned is the session orchestration daemon. It launches
// PTY-backed assistant sessions, streams their output to attached
// viewers over a unix control socket, and keeps session state durable
// across restarts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/glasspane/glasspane/daemon"
	"github.com/glasspane/glasspane/lib/config"
	"github.com/glasspane/glasspane/lib/tmux"
	"github.com/glasspane/glasspane/lib/version"
	"github.com/glasspane/glasspane/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var socketPath string
	var logLevel string
	var showVersion bool

	flagSet := pflag.NewFlagSet("glasspaned", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the config file (default: GLASSPANE_CONFIG or built-in defaults)")
	flagSet.StringVar(&socketPath, "socket", "", "override the control socket path")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("glasspaned %s\n", version.Info())
		return nil
	}

	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}

	ledger, err := session.NewFileLedger(cfg.Paths.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	snapshots, err := session.NewSnapshotStore(cfg.Paths.Snapshots)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}

	var multiplexer *session.Multiplexer
	if cfg.Multiplexer.Enabled {
		server := tmux.NewServer(cfg.Multiplexer.SocketPath, "/dev/null")
		multiplexer = session.NewMultiplexer(server, cfg.Multiplexer.SessionPrefix)
	}

	orchestrator, err := session.New(session.Options{
		Logger:                logger,
		Ledger:                ledger,
		Snapshots:             snapshots,
		Multiplexer:           multiplexer,
		AgentBinary:           cfg.Agent.Binary,
		AgentSearchPaths:      cfg.Agent.SearchPaths,
		AgentExtraArgs:        cfg.Agent.ExtraArgs,
		RingCapacity:          cfg.Sessions.RingCapacity,
		SubscriberBuffer:      cfg.Sessions.SubscriberBuffer,
		KeepaliveInterval:     cfg.Sessions.KeepaliveInterval,
		StoppedRetention:      cfg.Sweep.StoppedRetention,
		ForegroundIdle:        cfg.Sweep.ForegroundIdle,
		BackgroundIdle:        cfg.Sweep.BackgroundIdle,
		MultiplexerKillOnStop: cfg.Multiplexer.KillOnStop,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := orchestrator.Restore(ctx); err != nil {
		logger.Warn("session restore incomplete", "error", err)
	}
	go orchestrator.RunSweeper(ctx, cfg.Sweep.Interval)

	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	// A stale socket from an unclean shutdown blocks the bind.
	if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.SocketPath, err)
	}
	defer os.Remove(cfg.SocketPath)

	logger.Info("glasspaned listening",
		"socket", cfg.SocketPath,
		"multiplexer", cfg.Multiplexer.Enabled,
		"agent", cfg.Agent.Binary)

	server := daemon.NewServer(logger, orchestrator)
	err = server.Serve(ctx, listener)

	logger.Info("shutting down")
	orchestrator.Shutdown(context.Background())
	return err
}

// loadConfig resolves the config source: explicit flag first, then
// GLASSPANE_CONFIG, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("GLASSPANE_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// newLogger writes human-readable text to a terminal and JSON
// everywhere else (CI, journald, pipes).
func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
