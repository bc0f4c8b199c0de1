// SPDX-License-Identifier: BSD-3-Clause

// Package powerstate implements PowerStateTracker: a process-wide observer
// of the chassis power-good signal that caches the current state and fans
// out change notifications to named subscribers. The presencemgr and
// shutdownmon services each construct their own Tracker, so the instances
// are not shared and each one subscribes to the underlying bus signal.
package powerstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
)

// Kind selects which bus signal a Tracker watches.
type Kind int

const (
	// KindPGood watches a legacy integer "pgood" property; present iff != 0.
	KindPGood Kind = iota
	// KindHostState watches a host-state enumeration; present iff "Running".
	KindHostState
)

func (k Kind) String() string {
	switch k {
	case KindPGood:
		return "PGood"
	case KindHostState:
		return "HostState"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Callback is invoked only on a true state transition, never on a
// no-op refresh, with the new power state.
type Callback func(ctx context.Context, poweredOn bool)

type namedCallback struct {
	name string
	fn   Callback
}

// Tracker is a PowerStateTracker: PGood or HostState, depending on
// how it was constructed.
type Tracker struct {
	kind     Kind
	facade   *bus.Facade
	path     string
	iface    string
	property string
	logger   *slog.Logger

	mu        sync.Mutex
	poweredOn bool
	started   bool
	callbacks []namedCallback
	subs      []*bus.Subscription
}

const (
	ifacePGood     = "xyz.openbmc_project.Chassis.Control.Power"
	propertyPGood  = "pgood"
	ifaceHostState = "xyz.openbmc_project.State.Host"
	propertyState  = "CurrentHostState"

	hostStateRunning = "xyz.openbmc_project.State.Host.HostState.Running"
)

// NewPGood constructs a Tracker that watches the legacy pgood property at path.
func NewPGood(facade *bus.Facade, path string, logger *slog.Logger) *Tracker {
	return &Tracker{kind: KindPGood, facade: facade, path: path, iface: ifacePGood, property: propertyPGood, logger: logger}
}

// NewHostState constructs a Tracker that watches the host-state enumeration at path.
func NewHostState(facade *bus.Facade, path string, logger *slog.Logger) *Tracker {
	return &Tracker{kind: KindHostState, facade: facade, path: path, iface: ifaceHostState, property: propertyState, logger: logger}
}

// Start performs the construction-time sequence: a best-effort read of the
// current state (failure is treated as power-off), then subscriptions to
// PropertiesChanged on the tracked interface and InterfacesAdded on path (to
// pick up the owning service if it starts later).
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	initial, err := t.readState(ctx)
	if err != nil {
		t.logger.Warn("powerstate: initial read failed, assuming power off",
			slog.String("kind", t.kind.String()), slog.Any("error", err))
		initial = false
	}
	t.mu.Lock()
	t.poweredOn = initial
	t.mu.Unlock()

	changedSub, err := t.facade.Subscribe("internal.property.changed", nil, t.handlePropertiesChanged)
	if err != nil {
		return fmt.Errorf("powerstate: subscribe PropertiesChanged: %w", err)
	}

	addedSub, err := t.facade.Subscribe("internal.interfaces.added", nil, t.handleInterfacesAdded)
	if err != nil {
		_ = changedSub.Unsubscribe()
		return fmt.Errorf("powerstate: subscribe InterfacesAdded: %w", err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, changedSub, addedSub)
	t.mu.Unlock()

	return nil
}

// Stop removes all subscriptions. The tracker may be Start-ed again.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.started = false
	t.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}

func (t *Tracker) readState(ctx context.Context) (bool, error) {
	var raw json.RawMessage
	if err := t.facade.GetProperty(ctx, t.path, t.iface, t.property, &raw); err != nil {
		return false, err
	}
	return t.decode(raw)
}

func (t *Tracker) decode(raw json.RawMessage) (bool, error) {
	switch t.kind {
	case KindPGood:
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return false, err
		}
		return v != 0, nil
	case KindHostState:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return false, err
		}
		return v == hostStateRunning, nil
	default:
		return false, fmt.Errorf("powerstate: unknown kind %v", t.kind)
	}
}

func (t *Tracker) handlePropertiesChanged(ctx context.Context, sig bus.Signal, _ any) {
	if sig.Path != t.path || sig.Interface != t.iface || sig.Property != t.property {
		return
	}
	newState, err := t.decode(sig.Value)
	if err != nil {
		t.logger.Warn("powerstate: malformed PropertiesChanged payload", slog.Any("error", err))
		return
	}
	t.setState(ctx, newState)
}

func (t *Tracker) handleInterfacesAdded(ctx context.Context, sig bus.Signal, _ any) {
	if sig.Path != t.path || sig.Interface != t.iface {
		return
	}
	newState, err := t.readState(ctx)
	if err != nil {
		return
	}
	t.setState(ctx, newState)
}

// setState updates the cached state and, only on an actual transition, fans
// out to every registered callback in subscription order.
func (t *Tracker) setState(ctx context.Context, newState bool) {
	t.mu.Lock()
	if t.poweredOn == newState {
		t.mu.Unlock()
		return
	}
	t.poweredOn = newState
	callbacks := make([]namedCallback, len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb.fn(ctx, newState)
	}
}

// IsPowerOn returns the cached power state.
func (t *Tracker) IsPowerOn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.poweredOn
}

// AddCallback registers fn under name. Re-registering a name replaces the
// previous callback in place, preserving its position in subscription order.
func (t *Tracker) AddCallback(name string, fn Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.callbacks {
		if t.callbacks[i].name == name {
			t.callbacks[i].fn = fn
			return
		}
	}
	t.callbacks = append(t.callbacks, namedCallback{name: name, fn: fn})
}

// RemoveCallback removes the callback registered under name, if any.
func (t *Tracker) RemoveCallback(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.callbacks {
		if t.callbacks[i].name == name {
			t.callbacks = append(t.callbacks[:i], t.callbacks[i+1:]...)
			return
		}
	}
}
