// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/klauspost/compress/zstd"
)

var snapshotSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SnapshotStore persists the final ring buffer contents of stopped
// sessions so the last screenful of output survives daemon restarts.
// One zstd-compressed file per session; terminal output is highly
// repetitive, so level 3 recovers most of the size at low cost.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore creates the snapshot directory if needed.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) path(id string) string {
	name := snapshotSanitizer.ReplaceAllString(id, "_")
	return filepath.Join(s.dir, name+".zst")
}

// Save writes the output snapshot for id atomically, replacing any
// previous snapshot.
func (s *SnapshotStore) Save(id string, output []byte) error {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	compressed := encoder.EncodeAll(output, nil)
	encoder.Close()

	temp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tempName := temp.Name()
	if _, err := temp.Write(compressed); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tempName, s.path(id)); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load returns the stored output for id. A missing snapshot returns
// (nil, false, nil) rather than an error: sessions that never stopped
// cleanly have none.
func (s *SnapshotStore) Load(id string) ([]byte, bool, error) {
	compressed, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot for %s: %w", id, err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, false, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()
	output, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress snapshot for %s: %w", id, err)
	}
	return output, true, nil
}

// Delete removes the snapshot for id. Missing snapshots are a no-op.
func (s *SnapshotStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot for %s: %w", id, err)
	}
	return nil
}
