// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "testing"

func TestRegistryInsertGetRemove(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if got := reg.Get("missing"); got != nil {
		t.Errorf("Get on empty registry = %v, want nil", got)
	}

	record := &Record{ID: "s1", status: StatusStarting}
	if _, inserted := reg.Insert(record); !inserted {
		t.Fatal("Insert of fresh id reported not inserted")
	}
	if got := reg.Get("s1"); got != record {
		t.Errorf("Get(s1) = %v, want the inserted record", got)
	}
	if got := reg.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	if !reg.Remove("s1") {
		t.Error("Remove of present id returned false")
	}
	if reg.Remove("s1") {
		t.Error("second Remove returned true")
	}
	if got := reg.Get("s1"); got != nil {
		t.Errorf("Get after Remove = %v, want nil", got)
	}
}

func TestRegistryInsertDuplicate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	first := &Record{ID: "s1", status: StatusRunning}
	second := &Record{ID: "s1", status: StatusStarting}

	reg.Insert(first)
	existing, inserted := reg.Insert(second)
	if inserted {
		t.Error("duplicate Insert reported inserted")
	}
	if existing != first {
		t.Error("duplicate Insert did not return the original record")
	}
	if got := reg.Get("s1"); got != first {
		t.Error("duplicate Insert replaced the original record")
	}
}

func TestRegistryAllIsSnapshot(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Insert(&Record{ID: "a"})
	reg.Insert(&Record{ID: "b"})

	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d records, want 2", len(all))
	}
	reg.Remove("a")
	if len(all) != 2 {
		t.Error("snapshot shrank after Remove")
	}
}
