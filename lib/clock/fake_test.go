// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	t.Parallel()
	c := Fake(testEpoch)

	if got := c.Now(); !got.Equal(testEpoch) {
		t.Errorf("Now: got %v, want %v", got, testEpoch)
	}
	c.Advance(90 * time.Second)
	if got, want := c.Now(), testEpoch.Add(90*time.Second); !got.Equal(want) {
		t.Errorf("Now after Advance: got %v, want %v", got, want)
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	t.Parallel()
	c := Fake(testEpoch)

	ch := c.After(10 * time.Second)
	c.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before deadline")
	default:
	}
	c.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at deadline")
	}
}

func TestFakeAfterFuncRunsDuringAdvance(t *testing.T) {
	t.Parallel()
	c := Fake(testEpoch)

	var fired atomic.Int32
	c.AfterFunc(5*time.Second, func() { fired.Add(1) })

	c.Advance(4 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("AfterFunc fired early")
	}
	c.Advance(2 * time.Second)
	if fired.Load() != 1 {
		t.Fatalf("AfterFunc fired %d times, want 1", fired.Load())
	}
	// A second advance must not re-fire a one-shot waiter.
	c.Advance(10 * time.Second)
	if fired.Load() != 1 {
		t.Fatalf("AfterFunc re-fired: %d times", fired.Load())
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	t.Parallel()
	c := Fake(testEpoch)

	var fired atomic.Int32
	timer := c.AfterFunc(5*time.Second, func() { fired.Add(1) })

	if !timer.Stop() {
		t.Error("Stop on pending timer: got false, want true")
	}
	c.Advance(time.Minute)
	if fired.Load() != 0 {
		t.Error("stopped timer fired")
	}
	if timer.Stop() {
		t.Error("second Stop: got true, want false")
	}
}

func TestFakeTickerFiresPerInterval(t *testing.T) {
	t.Parallel()
	c := Fake(testEpoch)

	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	ticks := 0
	for i := 0; i < 3; i++ {
		c.Advance(time.Minute)
		select {
		case <-ticker.C:
			ticks++
		default:
		}
	}
	if ticks != 3 {
		t.Errorf("ticks: got %d, want 3", ticks)
	}
}

func TestFakeTickerStopped(t *testing.T) {
	t.Parallel()
	c := Fake(testEpoch)

	ticker := c.NewTicker(time.Second)
	ticker.Stop()
	c.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Error("stopped ticker delivered a tick")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	t.Parallel()
	c := Fake(testEpoch)

	done := make(chan struct{})
	go func() {
		c.Sleep(30 * time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(30 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep goroutine did not wake after Advance")
	}
}
