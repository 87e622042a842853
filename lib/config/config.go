// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the glasspane daemon.
type Config struct {
	// SocketPath is the Unix socket the daemon listens on for attach
	// and control connections.
	SocketPath string `yaml:"socket_path"`

	// Paths configures directory locations for durable state.
	Paths PathsConfig `yaml:"paths"`

	// Agent configures how the wrapped CLI assistant is launched.
	Agent AgentConfig `yaml:"agent"`

	// Sessions configures per-session buffering and streaming.
	Sessions SessionsConfig `yaml:"sessions"`

	// Multiplexer configures the tmux persistence backend.
	Multiplexer MultiplexerConfig `yaml:"multiplexer"`

	// Sweep configures the periodic cleanup of abandoned sessions.
	Sweep SweepConfig `yaml:"sweep"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// State is the base directory for runtime state.
	State string `yaml:"state"`

	// Ledger is the path of the JSON session ledger file.
	// Default: <state>/sessions.json
	Ledger string `yaml:"ledger"`

	// Snapshots is the directory holding compressed scrollback
	// snapshots. Default: <state>/snapshots
	Snapshots string `yaml:"snapshots"`
}

// AgentConfig configures the wrapped CLI process.
type AgentConfig struct {
	// Binary is the executable name of the assistant CLI.
	// Default: claude
	Binary string `yaml:"binary"`

	// SearchPaths are probed in order for the binary before falling
	// back to PATH lookup. The first existing path wins.
	SearchPaths []string `yaml:"search_paths"`

	// ExtraArgs are appended to every launch.
	ExtraArgs []string `yaml:"extra_args"`
}

// SessionsConfig configures per-session buffering and streaming.
type SessionsConfig struct {
	// RingCapacity is the maximum number of output chunks retained
	// for replay to newly attached viewers. Default: 1000.
	RingCapacity int `yaml:"ring_capacity"`

	// SubscriberBuffer is the per-viewer event channel depth. A
	// viewer that falls this far behind is disconnected rather than
	// allowed to stall the broadcast. Default: 256.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// KeepaliveInterval is how often a keepalive event is emitted on
	// each attached stream so transport idle timeouts don't sever
	// healthy connections. Default: 25s.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// MultiplexerConfig configures the tmux persistence backend.
type MultiplexerConfig struct {
	// Enabled turns on tmux-backed sessions. When false, sessions
	// run as direct children and die with the daemon.
	Enabled bool `yaml:"enabled"`

	// SocketPath is the dedicated tmux server socket. Glasspane never
	// uses the operator's personal tmux server.
	// Default: <state>/tmux.sock
	SocketPath string `yaml:"socket_path"`

	// SessionPrefix namespaces glasspane's tmux sessions so cleanup
	// can never touch foreign sessions. Default: "glasspane-".
	SessionPrefix string `yaml:"session_prefix"`

	// KillOnStop controls what Stop does to the tmux session when the
	// caller did not ask for ledger removal: false detaches and
	// leaves the agent running for a later reconnect; true kills it.
	// Default: false.
	KillOnStop bool `yaml:"kill_on_stop"`
}

// SweepConfig configures the periodic cleanup sweep.
type SweepConfig struct {
	// Interval between sweep passes. Default: 1m.
	Interval time.Duration `yaml:"interval"`

	// StoppedRetention is how long a stopped or errored record stays
	// in the registry so late pollers observe the terminal status.
	// Default: 10s.
	StoppedRetention time.Duration `yaml:"stopped_retention"`

	// ForegroundIdle retires a foreground session with no activity
	// for this long. Default: 4h.
	ForegroundIdle time.Duration `yaml:"foreground_idle"`

	// BackgroundIdle retires a background session with no activity
	// for this long. Background work is retained far longer since
	// nobody is expected to be watching. Default: 48h.
	BackgroundIdle time.Duration `yaml:"background_idle"`
}

// Default returns the default configuration, used as the base before
// the config file is applied.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".local", "state", "glasspane")

	return &Config{
		SocketPath: filepath.Join(stateDir, "glasspaned.sock"),
		Paths: PathsConfig{
			State:     stateDir,
			Ledger:    filepath.Join(stateDir, "sessions.json"),
			Snapshots: filepath.Join(stateDir, "snapshots"),
		},
		Agent: AgentConfig{
			Binary: "claude",
			SearchPaths: []string{
				filepath.Join(homeDir, ".local", "bin"),
				"/usr/local/bin",
				"/opt/homebrew/bin",
			},
		},
		Sessions: SessionsConfig{
			RingCapacity:      1000,
			SubscriberBuffer:  256,
			KeepaliveInterval: 25 * time.Second,
		},
		Multiplexer: MultiplexerConfig{
			Enabled:       false,
			SocketPath:    filepath.Join(stateDir, "tmux.sock"),
			SessionPrefix: "glasspane-",
			KillOnStop:    false,
		},
		Sweep: SweepConfig{
			Interval:         time.Minute,
			StoppedRetention: 10 * time.Second,
			ForegroundIdle:   4 * time.Hour,
			BackgroundIdle:   48 * time.Hour,
		},
	}
}

// Load loads configuration from the GLASSPANE_CONFIG environment
// variable. Fails if the variable is unset — there are no fallbacks,
// so running daemons always have an auditable config source.
func Load() (*Config, error) {
	path := os.Getenv("GLASSPANE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("GLASSPANE_CONFIG environment variable not set; " +
			"set it to the path of your glasspane.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, on top of
// Default().
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path must not be empty")
	}
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent.binary must not be empty")
	}
	if c.Sessions.RingCapacity <= 0 {
		return fmt.Errorf("sessions.ring_capacity must be positive, got %d", c.Sessions.RingCapacity)
	}
	if c.Sessions.SubscriberBuffer <= 0 {
		return fmt.Errorf("sessions.subscriber_buffer must be positive, got %d", c.Sessions.SubscriberBuffer)
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive, got %v", c.Sweep.Interval)
	}
	if c.Sweep.StoppedRetention <= 0 {
		return fmt.Errorf("sweep.stopped_retention must be positive, got %v", c.Sweep.StoppedRetention)
	}
	if c.Multiplexer.Enabled && c.Multiplexer.SessionPrefix == "" {
		return fmt.Errorf("multiplexer.session_prefix must not be empty when the multiplexer is enabled")
	}
	return nil
}
