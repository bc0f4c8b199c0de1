// SPDX-License-Identifier: BSD-3-Clause

package control

import (
	"context"
	"sync"
	"time"
)

// PCIeCardKey identifies a plugged card by its Function0 identification
// properties, read as hex strings per the PCIeDevice interface.
type PCIeCardKey struct {
	VendorID    string
	DeviceID    string
	SubsystemID string
	SubsystemVendorID string
}

// PCIeCardEntry is one metadata-file row: either a floor index or a marker
// that the card has its own temperature sensor and needs no floor.
type PCIeCardEntry struct {
	FloorIndex   int
	HasOwnSensor bool
}

// FloorRegistry is the parameter PCIeCardFloors publishes its result to.
// PCIeCardFloors actions that hold the same instance publish into one table.
type FloorRegistry struct {
	mu      sync.Mutex
	indices map[string]int
}

// NewFloorRegistry constructs an empty FloorRegistry.
func NewFloorRegistry() *FloorRegistry {
	return &FloorRegistry{indices: make(map[string]int)}
}

// Publish records the floor index contributed under key (a zone or group name).
func (r *FloorRegistry) Publish(key string, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indices[key] = index
}

// Clear removes any floor index previously contributed under key.
func (r *FloorRegistry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indices, key)
}

// Largest returns the largest currently published floor index, if any.
func (r *FloorRegistry) Largest() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.indices) == 0 {
		return 0, false
	}
	first := true
	var max int
	for _, v := range r.indices {
		if first || v > max {
			max = v
			first = false
		}
	}
	return max, true
}

// PCIeCardFloors looks up each powered-on slot's plugged card in Metadata
// and publishes the largest contributed floor index to Registry, debounced
// by SettleDelay so transient bus churn during card enumeration does not
// thrash the floor.
type PCIeCardFloors struct {
	Metadata    map[PCIeCardKey]PCIeCardEntry
	Registry    *FloorRegistry
	SettleDelay time.Duration
	FloorTable  []TableEntry // FloorIndex -> speed, sorted ascending by index

	Slots []PCIeSlot

	mu         sync.Mutex
	settleTimer *time.Timer
}

// PCIeSlot is one PCIe slot whose plugged-card identity is read from cached
// properties when the action fires.
type PCIeSlot struct {
	Name              string
	VendorIDKey       PropertyKey
	DeviceIDKey       PropertyKey
	SubsystemIDKey    PropertyKey
	SubsystemVendorKey PropertyKey
	PoweredKey        PropertyKey
}

func (a *PCIeCardFloors) Apply(ctx context.Context, zone *Zone, group Group) {
	a.mu.Lock()
	if a.settleTimer != nil {
		a.settleTimer.Stop()
	}
	a.settleTimer = time.AfterFunc(a.SettleDelay, func() { a.settle(zone) })
	a.mu.Unlock()
}

func (a *PCIeCardFloors) settle(zone *Zone) {
	largestIndex := -1
	for _, slot := range a.Slots {
		if !a.slotPowered(zone, slot) {
			continue
		}
		key := a.readKey(zone, slot)
		entry, ok := a.Metadata[key]
		if !ok || entry.HasOwnSensor {
			continue
		}
		if entry.FloorIndex > largestIndex {
			largestIndex = entry.FloorIndex
		}
	}

	if largestIndex < 0 {
		a.Registry.Clear(zone.Name)
		return
	}
	a.Registry.Publish(zone.Name, largestIndex)

	for _, e := range a.FloorTable {
		if int(e.Key) == largestIndex {
			zone.SetFloor(e.Speed)
			return
		}
	}
}

func (a *PCIeCardFloors) slotPowered(zone *Zone, slot PCIeSlot) bool {
	raw, ok := zone.CachedProperty(slot.PoweredKey)
	if !ok {
		return false
	}
	var powered bool
	return jsonBool(raw, &powered) && powered
}

func (a *PCIeCardFloors) readKey(zone *Zone, slot PCIeSlot) PCIeCardKey {
	var k PCIeCardKey
	if raw, ok := zone.CachedProperty(slot.VendorIDKey); ok {
		jsonString(raw, &k.VendorID)
	}
	if raw, ok := zone.CachedProperty(slot.DeviceIDKey); ok {
		jsonString(raw, &k.DeviceID)
	}
	if raw, ok := zone.CachedProperty(slot.SubsystemIDKey); ok {
		jsonString(raw, &k.SubsystemID)
	}
	if raw, ok := zone.CachedProperty(slot.SubsystemVendorKey); ok {
		jsonString(raw, &k.SubsystemVendorID)
	}
	return k
}
