// SPDX-License-Identifier: BSD-3-Clause

// Package control implements ControlEngine: Zone (the fan-speed setpoint
// authority for a group of fans), Event (the trigger/action binding that
// drives a Zone), Action (the tagged rule-language verbs), and Precondition
// (gating a set of Events on a property match).
package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
)

// FanOutput is one physical fan a Zone writes a Target to.
type FanOutput struct {
	Name      string
	Service   string
	Path      string
	Interface string // e.g. "xyz.openbmc_project.Control.FanSpeed"
	Property  string // "Target"

	hasCached bool
	cached    uint64
}

// Zone is the ControlEngine's setpoint authority: it clamps requested
// speeds to [floor, ceiling], gates writes on every registered group's
// activeAllow bit, and serializes target writes to its backing fans.
type Zone struct {
	Name   string
	facade *bus.Facade
	logger *slog.Logger

	mu                           sync.Mutex
	floor, ceiling               uint64
	defaultFloor, defaultCeiling uint64
	cachedTarget                 uint64
	locks                        []uint64
	activeAllow                  map[string]bool
	allActive                    bool
	fans                         []*FanOutput
	cache                        map[PropertyKey]json.RawMessage
}

// NewZone constructs a Zone with the given default floor/ceiling and
// backing fans. allActive starts true: a zone with no groups registered is
// under automatic control from the start.
func NewZone(name string, facade *bus.Facade, logger *slog.Logger, defaultFloor, defaultCeiling uint64, fans []*FanOutput) *Zone {
	return &Zone{
		Name:          name,
		facade:        facade,
		logger:        logger,
		floor:         defaultFloor,
		ceiling:       defaultCeiling,
		defaultFloor:  defaultFloor,
		defaultCeiling: defaultCeiling,
		cachedTarget:  defaultFloor,
		activeAllow:   make(map[string]bool),
		allActive:     true,
		fans:          fans,
		cache:         make(map[PropertyKey]json.RawMessage),
	}
}

// SnapshotProperty seeds the zone's property cache with a best-effort
// initial read. A failed read simply leaves the key absent.
func (z *Zone) SnapshotProperty(ctx context.Context, key PropertyKey) {
	var raw json.RawMessage
	if err := z.facade.GetProperty(ctx, key.Path, key.Interface, key.Property, &raw); err != nil {
		z.logger.Debug("control: property snapshot failed",
			slog.String("path", key.Path), slog.String("property", key.Property), slog.Any("error", err))
		return
	}
	z.mu.Lock()
	z.cache[key] = raw
	z.mu.Unlock()
}

// UpdateProperty records a new cached value, as observed from a PropertiesChanged signal.
func (z *Zone) UpdateProperty(key PropertyKey, raw json.RawMessage) {
	z.mu.Lock()
	z.cache[key] = raw
	z.mu.Unlock()
}

// CachedProperty returns the last known value for key.
func (z *Zone) CachedProperty(key PropertyKey) (json.RawMessage, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	v, ok := z.cache[key]
	return v, ok
}

// cachedTargetSnapshot returns the last speed requested via SetSpeed,
// ignoring lock/activeAllow gating. Used by actions that need to apply a
// relative increase/decrease on top of the current setpoint.
func (z *Zone) cachedTargetSnapshot() uint64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.cachedTarget
}

// Floor returns the current floor.
func (z *Zone) Floor() uint64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.floor
}

// SetFloor updates the floor, clamping the ceiling up if necessary, and
// re-pushes the cached target so a floor increase takes effect immediately.
func (z *Zone) SetFloor(floor uint64) {
	z.mu.Lock()
	z.floor = floor
	if z.ceiling < z.floor {
		z.ceiling = z.floor
	}
	target := z.cachedTarget
	z.mu.Unlock()
	z.SetSpeed(target)
}

// Ceiling returns the current ceiling.
func (z *Zone) Ceiling() uint64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.ceiling
}

// FullSpeed returns the zone's construction-time default ceiling, the speed
// a failed precondition requests. The request goes through SetSpeed, which
// clamps it to the current ceiling, so a ceiling lowered since by
// SetCeilingFromAverage also caps the forced speed.
func (z *Zone) FullSpeed() uint64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.defaultCeiling
}

// SetCeiling updates the ceiling, clamping the floor down if necessary, and
// re-pushes the cached target so a ceiling decrease takes effect immediately.
func (z *Zone) SetCeiling(ceiling uint64) {
	z.mu.Lock()
	z.ceiling = ceiling
	if z.floor > z.ceiling {
		z.floor = z.ceiling
	}
	target := z.cachedTarget
	z.mu.Unlock()
	z.SetSpeed(target)
}

// SetSpeed clamps raw to [floor, ceiling] and caches it; it is pushed to
// every backing fan only while every registered group's activeAllow is true.
func (z *Zone) SetSpeed(raw uint64) {
	z.mu.Lock()
	target := clamp(raw, z.floor, z.ceiling)
	z.cachedTarget = target
	push := z.allActive
	z.mu.Unlock()

	if push {
		z.pushTarget(target)
	}
}

func clamp(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetActiveAllow updates the activeAllow bit for group. allActive becomes
// false as soon as any group is false and true only once every group is
// true, at which point the last cached target is re-pushed.
func (z *Zone) SetActiveAllow(group string, allow bool) {
	z.mu.Lock()
	z.activeAllow[group] = allow
	allActive := true
	for _, v := range z.activeAllow {
		if !v {
			allActive = false
			break
		}
	}
	becameActive := allActive && !z.allActive
	z.allActive = allActive
	target := z.cachedTarget
	z.mu.Unlock()

	if becameActive {
		z.pushTarget(target)
	}
}

// LockTarget forces the zone's written target to max(v, every other held
// lock), bypassing the activeAllow gate, until a matching UnlockTarget call.
func (z *Zone) LockTarget(v uint64) {
	z.mu.Lock()
	z.locks = append(z.locks, v)
	forced := z.highestLockLocked()
	z.mu.Unlock()
	z.writeFans(forced, true)
}

// UnlockTarget removes one matching lock. If locks remain, the highest
// remaining lock is re-forced; otherwise the cached target resumes under
// the normal activeAllow gate.
func (z *Zone) UnlockTarget(v uint64) {
	z.mu.Lock()
	for i, l := range z.locks {
		if l == v {
			z.locks = append(z.locks[:i], z.locks[i+1:]...)
			break
		}
	}
	stillLocked := len(z.locks) > 0
	forced := z.highestLockLocked()
	target := z.cachedTarget
	push := z.allActive
	z.mu.Unlock()

	if stillLocked {
		z.writeFans(forced, true)
		return
	}
	if push {
		z.writeFans(target, false)
	}
}

// UnlockAll clears every held lock unconditionally, resuming automatic
// control under the normal activeAllow gate. Used by the external resume
// operation, which has no specific lock value to match.
func (z *Zone) UnlockAll() {
	z.mu.Lock()
	z.locks = nil
	target := z.cachedTarget
	push := z.allActive
	z.mu.Unlock()

	if push {
		z.writeFans(target, false)
	}
}

func (z *Zone) highestLockLocked() uint64 {
	var max uint64
	for _, l := range z.locks {
		if l > max {
			max = l
		}
	}
	return max
}

func (z *Zone) pushTarget(target uint64) {
	z.mu.Lock()
	locked := len(z.locks) > 0
	z.mu.Unlock()
	if locked {
		return
	}
	z.writeFans(target, false)
}

func (z *Zone) writeFans(target uint64, bypassLock bool) {
	z.mu.Lock()
	fans := z.fans
	locked := len(z.locks) > 0
	z.mu.Unlock()

	if locked && !bypassLock {
		return
	}

	ctx := context.Background()
	for _, f := range fans {
		z.setTarget(ctx, f, target)
	}
}

// setTarget is a no-op if v equals the fan's cached value; otherwise it
// writes Target on the backing sensor and updates the cache.
func (z *Zone) setTarget(ctx context.Context, f *FanOutput, v uint64) {
	if f.hasCached && f.cached == v {
		return
	}
	if err := z.facade.SetProperty(ctx, f.Path, f.Interface, f.Property, v); err != nil {
		z.logger.Error("control: fan target write failed",
			slog.String("fan", f.Name), slog.String("service", f.Service),
			slog.String("path", f.Path), slog.String("interface", f.Interface), slog.Any("error", err))
		return
	}
	f.hasCached = true
	f.cached = v
}
