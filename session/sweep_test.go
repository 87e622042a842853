// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"
	"time"
)

// waitFor polls until cond is true or the deadline passes. Sweep
// teardown runs in its own goroutines, so tests observe it
// asynchronously.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func TestSweepRemovesExpiredTerminalRecords(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, nil)
	ctx := context.Background()

	engine.start(t, StartParams{ID: "done"})
	engine.launcher.last().exit(0, "")

	// The retention AfterFunc has not fired (the clock never
	// advanced); the sweep acts as the backstop.
	start := engine.clock.Now()
	engine.orch.sweepOnce(ctx, start.Add(5*time.Second))
	if engine.orch.registry.Get("done") == nil {
		t.Fatal("record removed before retention elapsed")
	}
	engine.orch.sweepOnce(ctx, start.Add(time.Hour))
	if engine.orch.registry.Get("done") != nil {
		t.Error("expired terminal record survived the sweep")
	}
	if _, ok, _ := engine.ledger.Get("done"); !ok {
		t.Error("sweep erased the durable entry")
	}
}

func TestSweepStopsIdleSessions(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, nil)
	ctx := context.Background()
	start := engine.clock.Now()

	engine.start(t, StartParams{ID: "fg"})
	engine.launcher.handles[0].emit("x")
	engine.start(t, StartParams{ID: "bg", IsBackground: true})
	engine.launcher.handles[1].emit("x")

	// Past the foreground window but inside the background window:
	// only the foreground session goes.
	engine.orch.sweepOnce(ctx, start.Add(5*time.Hour))
	waitFor(t, func() bool {
		return engine.orch.registry.Get("fg").Status() == StatusStopped
	})
	if got := engine.orch.registry.Get("bg").Status(); got != StatusBackground {
		t.Errorf("background session status = %s, want %s", got, StatusBackground)
	}

	// Past the background window too.
	engine.orch.sweepOnce(ctx, start.Add(49*time.Hour))
	waitFor(t, func() bool {
		return engine.orch.registry.Get("bg").Status() == StatusStopped
	})
}

func TestSweepLeavesActiveSessions(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, nil)
	ctx := context.Background()

	engine.start(t, StartParams{ID: "busy"})
	engine.launcher.last().emit("working\r\n")

	engine.orch.sweepOnce(ctx, engine.clock.Now().Add(time.Hour))
	if got := engine.orch.registry.Get("busy").Status(); got != StatusRunning {
		t.Errorf("active session status = %s, want %s", got, StatusRunning)
	}
	if got := engine.launcher.count(); got != 1 {
		t.Errorf("launch count = %d, want 1", got)
	}
}

func TestRunSweeperTicks(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.start(t, StartParams{ID: "tick"})
	engine.launcher.last().exit(0, "")
	// Drop the retention timer so only the sweeper can retire the
	// record.
	record := engine.orch.registry.Get("tick")
	record.mu.Lock()
	if record.removeTimer != nil {
		record.removeTimer.Stop()
	}
	record.mu.Unlock()

	go engine.orch.RunSweeper(ctx, time.Minute)
	engine.clock.WaitForTimers(1)
	engine.clock.Advance(time.Minute)

	waitFor(t, func() bool {
		return engine.orch.registry.Get("tick") == nil
	})
}
