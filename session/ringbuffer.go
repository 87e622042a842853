// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "sync"

// DefaultRingCapacity is the default number of output chunks retained
// per session. At typical PTY read sizes this holds several minutes of
// busy agent output — enough that a reattaching viewer never sees a
// blank terminal.
const DefaultRingCapacity = 1000

// RingBuffer is a fixed-capacity FIFO of raw terminal output chunks.
// When full, the oldest chunk is evicted. It exists for the life of
// one session record and replays its contents to newly attached
// viewers; escape sequences are preserved byte-for-byte so replay
// renders with full fidelity.
//
// All methods are safe for concurrent use.
type RingBuffer struct {
	mu       sync.Mutex
	chunks   [][]byte
	head     int // next write position
	size     int
	capacity int
}

// NewRingBuffer creates a ring buffer holding at most capacity chunks.
// A non-positive capacity falls back to DefaultRingCapacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RingBuffer{
		chunks:   make([][]byte, capacity),
		capacity: capacity,
	}
}

// Append stores a copy of chunk, evicting the oldest entry when the
// buffer is full. Empty chunks are ignored.
func (ring *RingBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	owned := make([]byte, len(chunk))
	copy(owned, chunk)

	ring.mu.Lock()
	defer ring.mu.Unlock()
	ring.chunks[ring.head] = owned
	ring.head = (ring.head + 1) % ring.capacity
	if ring.size < ring.capacity {
		ring.size++
	}
}

// Snapshot returns the buffered output as one contiguous byte slice,
// oldest chunk first — the replay payload for a newly attached viewer.
// Returns nil when the buffer is empty.
func (ring *RingBuffer) Snapshot() []byte {
	ring.mu.Lock()
	defer ring.mu.Unlock()

	if ring.size == 0 {
		return nil
	}
	total := 0
	start := ring.oldestLocked()
	for i := 0; i < ring.size; i++ {
		total += len(ring.chunks[(start+i)%ring.capacity])
	}
	out := make([]byte, 0, total)
	for i := 0; i < ring.size; i++ {
		out = append(out, ring.chunks[(start+i)%ring.capacity]...)
	}
	return out
}

// Chunks returns copies of the buffered chunks, oldest first.
func (ring *RingBuffer) Chunks() [][]byte {
	ring.mu.Lock()
	defer ring.mu.Unlock()

	out := make([][]byte, ring.size)
	start := ring.oldestLocked()
	for i := 0; i < ring.size; i++ {
		chunk := ring.chunks[(start+i)%ring.capacity]
		out[i] = make([]byte, len(chunk))
		copy(out[i], chunk)
	}
	return out
}

// Len returns the number of chunks currently stored.
func (ring *RingBuffer) Len() int {
	ring.mu.Lock()
	defer ring.mu.Unlock()
	return ring.size
}

// Clear drops all buffered chunks and releases their memory.
func (ring *RingBuffer) Clear() {
	ring.mu.Lock()
	defer ring.mu.Unlock()
	for i := range ring.chunks {
		ring.chunks[i] = nil
	}
	ring.head = 0
	ring.size = 0
}

// oldestLocked returns the index of the oldest chunk. Caller holds mu.
func (ring *RingBuffer) oldestLocked() int {
	if ring.size < ring.capacity {
		return 0
	}
	return ring.head
}
