// SPDX-License-Identifier: BSD-3-Clause

package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestZone() *Zone {
	return NewZone("test", nil, discardLogger(), 0, 10000, nil)
}

func setMean(zone *Zone, group Group, value float64) {
	raw, _ := json.Marshal(value)
	zone.UpdateProperty(group.Members[0], raw)
}

func TestSetCeilingFromAverageCrossingTrajectory(t *testing.T) {
	zone := newTestZone()
	zone.SetCeiling(10000) // start with ceiling at max so clamp never masks the trajectory

	group := Group{Name: "temps", Members: []PropertyKey{{Path: "/sensor0", Interface: "x", Property: "Value"}}}

	action := &SetCeilingFromAverage{
		Default: 2000,
		Table: []TableEntry{
			{Key: 8000, Speed: 4000},
			{Key: 9000, Speed: 6000},
			{Key: 10000, Speed: 8000},
		},
	}

	means := []float64{7500, 8500, 9500, 11000, 8500}
	want := []uint64{2000, 4000, 6000, 8000, 6000}

	for i, mean := range means {
		setMean(zone, group, mean)
		action.Apply(context.Background(), zone, group)
		if got := zone.Ceiling(); got != want[i] {
			t.Fatalf("step %d: mean=%v ceiling=%d, want %d", i, mean, got, want[i])
		}
	}
}

func TestSetFloorFromAverageSelectsSmallestGreaterKey(t *testing.T) {
	zone := newTestZone()
	group := Group{Name: "temps", Members: []PropertyKey{{Path: "/sensor0", Interface: "x", Property: "Value"}}}

	action := &SetFloorFromAverage{
		Default: 1000,
		Table: []TableEntry{
			{Key: 5000, Speed: 3000},
			{Key: 7000, Speed: 5000},
		},
	}

	setMean(zone, group, 6000)
	action.Apply(context.Background(), zone, group)
	if got := zone.Floor(); got != 5000 {
		t.Fatalf("floor = %d, want 5000", got)
	}

	setMean(zone, group, 9000)
	action.Apply(context.Background(), zone, group)
	if got := zone.Floor(); got != 1000 {
		t.Fatalf("floor with no greater key = %d, want default 1000", got)
	}
}

func TestCeilDivRoundsUp(t *testing.T) {
	if got := ceilDiv(10, 3); got != 4 {
		t.Fatalf("ceilDiv(10,3) = %d, want 4", got)
	}
	if got := ceilDiv(9, 3); got != 3 {
		t.Fatalf("ceilDiv(9,3) = %d, want 3", got)
	}
	if got := ceilDiv(0, 3); got != 0 {
		t.Fatalf("ceilDiv(0,3) = %d, want 0", got)
	}
}

func TestZoneLockTargetOverridesCachedTarget(t *testing.T) {
	zone := newTestZone()
	zone.SetSpeed(3000)

	zone.LockTarget(10500)
	if got := zone.cachedTargetSnapshot(); got != 3000 {
		t.Fatalf("lock must not overwrite the cached automatic target, got %d", got)
	}

	zone.UnlockTarget(10500)
}
