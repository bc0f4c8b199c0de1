// SPDX-License-Identifier: BSD-3-Clause

package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/ipc"
)

// Trigger selects what re-runs an Event's action list.
type Trigger int

const (
	// TriggerInit runs the action list exactly once, at construction/init.
	TriggerInit Trigger = iota
	// TriggerSignal runs the action list on every PropertiesChanged signal
	// matching one of the event's group members.
	TriggerSignal
	// TriggerTimer runs the action list on a recurring interval.
	TriggerTimer
)

// Action is one verb of the rule language, operating on a zone and group.
type Action interface {
	Apply(ctx context.Context, zone *Zone, group Group)
}

// Event binds a group's signals and a timer to an ordered action list,
// running on the configured trigger.
type Event struct {
	Name          string
	Zone          *Zone
	Group         Group
	Trigger       Trigger
	TimerInterval time.Duration
	Actions       []Action

	facade *bus.Facade
	logger *slog.Logger

	sub         *bus.Subscription
	timer       *time.Ticker
	stopTimerCh chan struct{}
}

// NewEvent constructs an Event. facade is used to subscribe the group's
// signals when Trigger is TriggerSignal.
func NewEvent(name string, zone *Zone, group Group, trigger Trigger, actions []Action, facade *bus.Facade, logger *slog.Logger) *Event {
	return &Event{Name: name, Zone: zone, Group: group, Trigger: trigger, Actions: actions, facade: facade, logger: logger}
}

// Init snapshots every group member, subscribes to property-change signals,
// runs the action list once, and arms a timer if configured.
func (e *Event) Init(ctx context.Context) error {
	for _, key := range e.Group.Members {
		e.Zone.SnapshotProperty(ctx, key)
	}

	if e.Trigger == TriggerSignal {
		sub, err := e.facade.Subscribe(ipc.InternalPropertyChanged, nil, e.handleSignal)
		if err != nil {
			return err
		}
		e.sub = sub
	}

	e.runActions(ctx)

	if e.Trigger == TriggerTimer && e.TimerInterval > 0 {
		e.timer = time.NewTicker(e.TimerInterval)
		e.stopTimerCh = make(chan struct{})
		go e.watchTimer()
	}

	return nil
}

// Deinit unsubscribes signals and disarms the timer. An Event may be
// re-Init'd afterward.
func (e *Event) Deinit() {
	if e.sub != nil {
		_ = e.sub.Unsubscribe()
		e.sub = nil
	}
	if e.timer != nil {
		e.timer.Stop()
		close(e.stopTimerCh)
		e.timer = nil
	}
}

func (e *Event) watchTimer() {
	for {
		select {
		case <-e.timer.C:
			e.runActions(context.Background())
		case <-e.stopTimerCh:
			return
		}
	}
}

func (e *Event) handleSignal(ctx context.Context, sig bus.Signal, _ any) {
	matched := false
	for _, m := range e.Group.Members {
		if sig.Path == m.Path && sig.Interface == m.Interface && sig.Property == m.Property {
			e.Zone.UpdateProperty(m, sig.Value)
			matched = true
		}
	}
	if matched {
		e.runActions(ctx)
	}
}

func (e *Event) runActions(ctx context.Context) {
	for _, a := range e.Actions {
		a.Apply(ctx, e.Zone, e.Group)
	}
}
