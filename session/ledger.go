// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LedgerEntry is the durable, restart-surviving projection of one
// session: metadata only, never output. One entry exists per session
// ever created; entries are pruned only on explicit removal, so the
// dashboard's history view survives both process exit and daemon
// restart.
type LedgerEntry struct {
	ID                string    `json:"id"`
	WorkingDirectory  string    `json:"workingDirectory"`
	BypassPermissions bool      `json:"bypassPermissions"`
	StartedAt         time.Time `json:"startedAt"`
	Status            Status    `json:"status"`
	IsBackground      bool      `json:"isBackground"`
	Sandboxed         bool      `json:"sandboxed,omitempty"`
	ResumeToken       string    `json:"resumeToken,omitempty"`
	LastActivityAt    time.Time `json:"lastActivityAt"`
	OwnerID           string    `json:"ownerId,omitempty"`
	MultiplexerHandle string    `json:"multiplexerHandle,omitempty"`
}

// Ledger is the durable session metadata store. The engine treats the
// store's file I/O as an external concern behind this interface; the
// file-backed implementation below is the default.
type Ledger interface {
	Put(entry LedgerEntry) error
	Get(id string) (LedgerEntry, bool, error)
	Delete(id string) error
	All() ([]LedgerEntry, error)
}

// FileLedger stores entries as a single JSON file, rewritten
// atomically (temp file, fsync, rename) on every mutation so readers
// never observe a partial ledger even across a crash.
type FileLedger struct {
	mu      sync.Mutex
	path    string
	entries map[string]LedgerEntry
}

// NewFileLedger opens or creates the ledger at path, loading any
// existing entries. The parent directory is created if missing.
func NewFileLedger(path string) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	ledger := &FileLedger{
		path:    path,
		entries: make(map[string]LedgerEntry),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ledger, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	var entries []LedgerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	for _, entry := range entries {
		ledger.entries[entry.ID] = entry
	}
	return ledger, nil
}

// Put inserts or replaces the entry for entry.ID.
func (l *FileLedger) Put(entry LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.ID] = entry
	return l.writeLocked()
}

// Get returns the entry for id, with ok reporting presence.
func (l *FileLedger) Get(id string) (LedgerEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[id]
	return entry, ok, nil
}

// Delete removes the entry for id. Deleting a missing id is a no-op.
func (l *FileLedger) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[id]; !ok {
		return nil
	}
	delete(l.entries, id)
	return l.writeLocked()
}

// All returns every entry. Order is unspecified; callers sort.
func (l *FileLedger) All() ([]LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]LedgerEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		entries = append(entries, entry)
	}
	return entries, nil
}

// writeLocked persists the ledger atomically. Caller holds l.mu.
func (l *FileLedger) writeLocked() error {
	entries := make([]LedgerEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		entries = append(entries, entry)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	temp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tempName := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("sync ledger temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tempName, l.path); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
