// SPDX-License-Identifier: BSD-3-Clause

package persist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/persist"
)

func TestStoreSetGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shutdownAlarmStartTimes")

	s, err := persist.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	key := persist.Key{SensorPath: "/xyz/temperature/cpu0", Severity: persist.SeverityHardShutdown, Direction: persist.DirectionHigh}

	if _, ok := s.Get(key); ok {
		t.Fatalf("expected no entry before Set")
	}

	if err := s.Set(key, 1000); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := persist.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	got, ok := reopened.Get(key)
	if !ok || got != 1000 {
		t.Fatalf("Get after reopen = (%d, %v), want (1000, true)", got, ok)
	}

	if err := reopened.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, ok := reopened.Get(key); ok {
		t.Fatalf("expected entry removed after Delete")
	}
}

func TestStorePrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shutdownAlarmStartTimes")
	s, err := persist.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	keep := persist.Key{SensorPath: "/a", Severity: persist.SeverityCritical, Direction: persist.DirectionLow}
	drop := persist.Key{SensorPath: "/b", Severity: persist.SeverityWarning, Direction: persist.DirectionHigh}

	if err := s.Set(keep, 1); err != nil {
		t.Fatalf("Set keep: %v", err)
	}
	if err := s.Set(drop, 2); err != nil {
		t.Fatalf("Set drop: %v", err)
	}

	if err := s.Prune(map[persist.Key]struct{}{keep: {}}); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if _, ok := s.Get(keep); !ok {
		t.Fatalf("expected kept key to survive prune")
	}
	if _, ok := s.Get(drop); ok {
		t.Fatalf("expected dropped key to be pruned")
	}
}

func TestOpenMalformedFileRecoversWithEmptyTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shutdownAlarmStartTimes")

	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("seed malformed file: %v", err)
	}

	s, err := persist.Open(path)
	if err != nil {
		t.Fatalf("Open should recover from malformed file, got error: %v", err)
	}

	if all := s.All(); len(all) != 0 {
		t.Fatalf("expected empty table after malformed recovery, got %d entries", len(all))
	}
}
