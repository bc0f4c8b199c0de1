// SPDX-License-Identifier: BSD-3-Clause

package control

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"
)

// TableEntry is one row of a value->speed selection table, sorted ascending
// by Key by the caller.
type TableEntry struct {
	Key   float64
	Speed uint64
}

func meanOf(zone *Zone, group Group) (float64, bool) {
	var sum float64
	var n int
	for _, key := range group.Members {
		raw, ok := zone.CachedProperty(key)
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// SetFloorFromAverage sets the zone floor to the speed of the smallest
// table key strictly greater than the group mean, or Default if the mean
// exceeds every key or no member has a value.
type SetFloorFromAverage struct {
	Table   []TableEntry
	Default uint64
}

func (a *SetFloorFromAverage) Apply(ctx context.Context, zone *Zone, group Group) {
	floor := a.Default
	if mean, ok := meanOf(zone, group); ok {
		for _, e := range a.Table {
			if e.Key > mean {
				floor = e.Speed
				break
			}
		}
	}
	zone.SetFloor(floor)
}

// SetCeilingFromAverage moves the zone ceiling only when the group mean
// crosses a table-key boundary relative to the previous mean: rising past a
// key adopts that key's speed; falling back past a key adopts the speed of
// the lowest key that was crossed on the way down, mirroring the rise.
// Table must be sorted ascending by Key.
type SetCeilingFromAverage struct {
	Table   []TableEntry
	Default uint64

	mu       sync.Mutex
	havePrev bool
	prevMean float64
}

func (a *SetCeilingFromAverage) Apply(ctx context.Context, zone *Zone, group Group) {
	mean, ok := meanOf(zone, group)
	if !ok {
		return
	}

	a.mu.Lock()
	havePrev := a.havePrev
	prev := a.prevMean
	a.prevMean = mean
	a.havePrev = true
	a.mu.Unlock()

	if !havePrev {
		zone.SetCeiling(a.selectInitial(mean))
		return
	}
	if len(a.Table) == 0 {
		return
	}

	switch {
	case mean > prev:
		var chosen *TableEntry
		for i := range a.Table {
			e := &a.Table[i]
			if e.Key > prev && e.Key <= mean && (chosen == nil || e.Key > chosen.Key) {
				chosen = e
			}
		}
		if chosen != nil {
			zone.SetCeiling(chosen.Speed)
		} else if mean > a.Table[len(a.Table)-1].Key {
			zone.SetCeiling(a.Table[len(a.Table)-1].Speed)
		}
	case mean < prev:
		var chosen *TableEntry
		for i := range a.Table {
			e := &a.Table[i]
			if e.Key <= prev && e.Key > mean && (chosen == nil || e.Key < chosen.Key) {
				chosen = e
			}
		}
		if chosen != nil {
			zone.SetCeiling(chosen.Speed)
		} else if mean <= a.Table[0].Key {
			zone.SetCeiling(a.Default)
		}
	}
}

func (a *SetCeilingFromAverage) selectInitial(mean float64) uint64 {
	speed := a.Default
	for _, e := range a.Table {
		if mean >= e.Key {
			speed = e.Speed
		}
	}
	return speed
}

// CountStateBeforeSpeed clamps the zone target to Target and denies
// automatic control of Group whenever at least MinCount group members
// currently hold State; otherwise it restores automatic control.
type CountStateBeforeSpeed struct {
	MinCount int
	State    json.RawMessage
	Target   uint64
}

func (a *CountStateBeforeSpeed) Apply(ctx context.Context, zone *Zone, group Group) {
	count := 0
	for _, key := range group.Members {
		raw, ok := zone.CachedProperty(key)
		if !ok {
			continue
		}
		if string(raw) == string(a.State) {
			count++
		}
	}
	if count >= a.MinCount {
		zone.SetSpeed(a.Target)
		zone.SetActiveAllow(group.Name, false)
	} else {
		zone.SetActiveAllow(group.Name, true)
	}
}

// ceilDiv computes ceil(numerator/denominator) for non-negative numerators,
// per the resolved net-increase/decrease rounding behavior: the source's
// truncating integer division under-steps when the quotient isn't exact.
func ceilDiv(numerator, denominator float64) uint64 {
	if numerator <= 0 || denominator <= 0 {
		return 0
	}
	return uint64(math.Ceil(numerator / denominator))
}

// SetNetIncreaseSpeed requests a zone speed increase of
// ceil((val-Threshold)/Factor) * Delta, the maximum over group members
// above Threshold, applied after IncreaseDelay.
type SetNetIncreaseSpeed struct {
	Threshold     float64
	Factor        float64
	Delta         uint64
	IncreaseDelay time.Duration
}

func (a *SetNetIncreaseSpeed) Apply(ctx context.Context, zone *Zone, group Group) {
	var maxDelta uint64
	for _, key := range group.Members {
		raw, ok := zone.CachedProperty(key)
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if v <= a.Threshold {
			continue
		}
		steps := ceilDiv(v-a.Threshold, a.Factor)
		delta := steps * a.Delta
		if delta > maxDelta {
			maxDelta = delta
		}
	}
	if maxDelta == 0 {
		return
	}
	apply := func() { zone.SetSpeed(zone.cachedTargetSnapshot() + maxDelta) }
	if a.IncreaseDelay > 0 {
		time.AfterFunc(a.IncreaseDelay, apply)
	} else {
		apply()
	}
}

// SetNetDecreaseSpeed requests a zone speed decrease of
// ceil((Threshold-val)/Factor) * Delta, the minimum non-zero delta over
// group members below Threshold, applied on the next decrease tick.
type SetNetDecreaseSpeed struct {
	Threshold        float64
	Factor           float64
	Delta            uint64
	DecreaseInterval time.Duration
}

func (a *SetNetDecreaseSpeed) Apply(ctx context.Context, zone *Zone, group Group) {
	var minDelta uint64
	found := false
	for _, key := range group.Members {
		raw, ok := zone.CachedProperty(key)
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if v >= a.Threshold {
			continue
		}
		steps := ceilDiv(a.Threshold-v, a.Factor)
		delta := steps * a.Delta
		if delta == 0 {
			continue
		}
		if !found || delta < minDelta {
			minDelta = delta
			found = true
		}
	}
	if !found {
		return
	}
	apply := func() {
		current := zone.cachedTargetSnapshot()
		next := uint64(0)
		if current > minDelta {
			next = current - minDelta
		}
		zone.SetSpeed(next)
	}
	if a.DecreaseInterval > 0 {
		time.AfterFunc(a.DecreaseInterval, apply)
	} else {
		apply()
	}
}

// MissingOwnerSpeed forces the zone target to Target and denies automatic
// control of Group whenever any member property has no known bus owner.
type MissingOwnerSpeed struct {
	Target uint64
}

func (a *MissingOwnerSpeed) Apply(ctx context.Context, zone *Zone, group Group) {
	for _, key := range group.Members {
		if _, err := zone.facade.GetService(ctx, key.Path, key.Interface); err != nil {
			zone.SetSpeed(a.Target)
			zone.SetActiveAllow(group.Name, false)
			return
		}
	}
	zone.SetActiveAllow(group.Name, true)
}

// ModifierOp names a transform applied to a cached numeric value before
// later actions in the same event's list read it.
type ModifierOp int

const (
	// ModifierSubtract subtracts Value from each cached member's numeric value.
	ModifierSubtract ModifierOp = iota
)

// Modifier rewrites the group's cached values in place for the remainder of
// the event's action list.
type Modifier struct {
	Op    ModifierOp
	Value float64
}

func (a *Modifier) Apply(ctx context.Context, zone *Zone, group Group) {
	for _, key := range group.Members {
		raw, ok := zone.CachedProperty(key)
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		switch a.Op {
		case ModifierSubtract:
			v -= a.Value
		}
		out, err := json.Marshal(v)
		if err != nil {
			continue
		}
		zone.UpdateProperty(key, out)
	}
}
