// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that
// timer-driven behavior — the session cleanup sweep, delayed registry
// removal, stream keepalives — can be tested without real timers.
//
// Production code accepts a Clock instead of calling time.Now,
// time.NewTicker, time.AfterFunc, or time.Sleep directly. Real()
// provides standard library behavior; Fake() provides a deterministic
// clock that moves only when Advance is called.
//
// A goroutine that registers a timer on a FakeClock races with the
// test that advances the clock. WaitForTimers closes that race: it
// blocks until the expected number of waiters are registered, after
// which Advance fires them deterministically.
package clock
