// SPDX-License-Identifier: BSD-3-Clause

package control

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/ipc"
)

// PreconditionMatch is one (path, interface, property, expected-value)
// tuple that must hold for every contained event to be active.
type PreconditionMatch struct {
	Path      string
	Interface string
	Property  string
	Expected  json.RawMessage
}

// Precondition gates a set of Events on a conjunction of property matches:
// when every match holds, contained events are initialized; when any does
// not, they are de-initialized and the zone is forced to full speed. This
// expresses policies like "only monitor fan health while the chassis is up".
type Precondition struct {
	Name     string
	Zone     *Zone
	Matches  []PreconditionMatch
	Contains []*Event

	facade *bus.Facade
	logger *slog.Logger

	sub    *bus.Subscription
	active bool
}

// NewPrecondition constructs a Precondition.
func NewPrecondition(name string, zone *Zone, matches []PreconditionMatch, contains []*Event, facade *bus.Facade, logger *slog.Logger) *Precondition {
	return &Precondition{Name: name, Zone: zone, Matches: matches, Contains: contains, facade: facade, logger: logger}
}

// Init subscribes to property changes on every matched path/interface and
// evaluates the initial state.
func (p *Precondition) Init(ctx context.Context) error {
	sub, err := p.facade.Subscribe(ipc.InternalPropertyChanged, nil, p.handleSignal)
	if err != nil {
		return err
	}
	p.sub = sub
	p.evaluate(ctx)
	return nil
}

// Deinit unsubscribes and de-initializes any currently active contained events.
func (p *Precondition) Deinit() {
	if p.sub != nil {
		_ = p.sub.Unsubscribe()
		p.sub = nil
	}
	if p.active {
		for _, e := range p.Contains {
			e.Deinit()
		}
		p.active = false
	}
}

func (p *Precondition) handleSignal(ctx context.Context, sig bus.Signal, _ any) {
	for _, m := range p.Matches {
		if sig.Path == m.Path && sig.Interface == m.Interface && sig.Property == m.Property {
			p.evaluate(ctx)
			return
		}
	}
}

func (p *Precondition) evaluate(ctx context.Context) {
	satisfied := p.matchesSatisfied(ctx)

	if satisfied == p.active {
		return
	}
	p.active = satisfied

	if satisfied {
		for _, e := range p.Contains {
			if err := e.Init(ctx); err != nil {
				p.logger.Error("control: precondition event init failed",
					slog.String("precondition", p.Name), slog.String("event", e.Name), slog.Any("error", err))
			}
		}
		return
	}

	for _, e := range p.Contains {
		e.Deinit()
	}
	p.Zone.SetSpeed(p.Zone.FullSpeed())
}

func (p *Precondition) matchesSatisfied(ctx context.Context) bool {
	for _, m := range p.Matches {
		var raw json.RawMessage
		if err := p.facade.GetProperty(ctx, m.Path, m.Interface, m.Property, &raw); err != nil {
			return false
		}
		if string(raw) != string(m.Expected) {
			return false
		}
	}
	return true
}
