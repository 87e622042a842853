// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"time"
)

// sweepOnce examines every live record against the retention policy
// and tears down the expired ones. Three classes expire:
//
//   - terminal records past the stopped-retention window (the
//     AfterFunc in finalize normally beats the sweep here; this is
//     the backstop for timers lost to a crash-restart)
//   - foreground sessions idle past the foreground window
//   - background sessions idle past the background window
//
// Teardown of idle sessions runs through Stop in its own goroutine so
// a slow tmux kill never stalls the sweep of the other sessions.
func (o *Orchestrator) sweepOnce(ctx context.Context, now time.Time) {
	for _, record := range o.registry.All() {
		status := record.Status()
		idle := now.Sub(record.LastActivityAt())

		if status.IsTerminal() {
			if o.options.StoppedRetention > 0 && idle >= o.options.StoppedRetention {
				o.registry.Remove(record.ID)
			}
			continue
		}

		var limit time.Duration
		if record.IsBackground {
			limit = o.options.BackgroundIdle
		} else {
			limit = o.options.ForegroundIdle
		}
		if limit <= 0 || idle < limit {
			continue
		}

		o.logger.Info("sweeping idle session",
			"session_id", record.ID,
			"status", status,
			"idle", idle,
			"background", record.IsBackground)
		go func(id string) {
			if err := o.Stop(ctx, id, StopOptions{}); err != nil {
				o.logger.Warn("sweep stop failed", "session_id", id, "error", err)
			}
		}(record.ID)
	}
}

// RunSweeper runs the periodic cleanup sweep until ctx is cancelled.
// Intended to run as a daemon goroutine.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := o.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.sweepOnce(ctx, now)
		}
	}
}
