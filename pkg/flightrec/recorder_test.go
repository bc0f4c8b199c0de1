// SPDX-License-Identifier: BSD-3-Clause

package flightrec

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshotOrderBeforeWrap(t *testing.T) {
	r := New(4, discardLogger())
	r.RecordAction("zone1", "a1", 1)
	r.RecordAction("zone1", "a2", 2)

	got := r.Snapshot()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Source != "zone1/a1" || got[1].Source != "zone1/a2" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestSnapshotWrapsInChronologicalOrder(t *testing.T) {
	r := New(3, discardLogger())
	for i := 0; i < 5; i++ {
		r.RecordAction("z", "a", i)
	}

	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	var vals []int
	for _, e := range got {
		var v int
		if err := json.Unmarshal(e.Detail, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		vals = append(vals, v)
	}
	want := []int{2, 3, 4}
	for i, v := range want {
		if vals[i] != v {
			t.Fatalf("vals = %v, want %v", vals, want)
		}
	}
}

func TestDumpWritesFile(t *testing.T) {
	r := New(2, discardLogger())
	r.RecordAction("z", "a", "x")

	path := filepath.Join(t.TempDir(), "dump.json")
	if err := r.Dump(path); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal dumped file: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
}
