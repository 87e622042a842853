// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "sync"

// Registry is the in-memory map from session id to live Record — the
// single source of truth while a process lives. All mutation is
// internally synchronized so interleaved attach, input, stop, and
// sweep operations observe a consistent view. The Registry is owned by
// the Orchestrator and passed by injection, never reached as ambient
// process-wide state.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Get returns the record for id, or nil.
func (reg *Registry) Get(id string) *Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.records[id]
}

// Insert adds a record if no record with that id exists. When a record
// is already present, it is returned and inserted is false — the
// caller is reconnecting to a live session, not creating one.
func (reg *Registry) Insert(record *Record) (existing *Record, inserted bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if current, ok := reg.records[record.ID]; ok {
		return current, false
	}
	reg.records[record.ID] = record
	return record, true
}

// Remove deletes the record for id. Returns true if it was present.
func (reg *Registry) Remove(id string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.records[id]; !ok {
		return false
	}
	delete(reg.records, id)
	return true
}

// All returns a snapshot slice of every live record. The slice is a
// copy; iterating it never races with concurrent mutation.
func (reg *Registry) All() []*Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	records := make([]*Record, 0, len(reg.records))
	for _, record := range reg.records {
		records = append(records, record)
	}
	return records
}

// Len returns the number of live records.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.records)
}
