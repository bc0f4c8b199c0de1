// SPDX-License-Identifier: BSD-3-Clause

package controlmgr

import "github.com/openbmc/phosphor-fan-presence-sub001/pkg/control"

// ZoneSpec is the static configuration for one control.Zone.
type ZoneSpec struct {
	Name           string
	DefaultFloor   uint64
	DefaultCeiling uint64
	Fans           []*control.FanOutput
}

// EventSpec is the static configuration for one control.Event bound to a
// zone built from ZoneSpec.Name.
type EventSpec struct {
	Name    string
	Zone    string
	Group   control.Group
	Trigger control.Trigger
	Actions []control.Action
}

// PreconditionSpec is the static configuration for one control.Precondition,
// naming the events (by EventSpec.Name) it gates.
type PreconditionSpec struct {
	Name     string
	Zone     string
	Matches  []control.PreconditionMatch
	Contains []string
}

type config struct {
	serviceName   string
	zones         []ZoneSpec
	events        []EventSpec
	preconditions []PreconditionSpec
}

// Option configures a ControlMgr.
type Option interface {
	apply(*config)
}

type nameOption string

func (o nameOption) apply(c *config) { c.serviceName = string(o) }

// WithName overrides the service's registered name.
func WithName(name string) Option { return nameOption(name) }

type zonesOption []ZoneSpec

func (o zonesOption) apply(c *config) { c.zones = append(c.zones, []ZoneSpec(o)...) }

// WithZones adds statically configured zones.
func WithZones(zones ...ZoneSpec) Option { return zonesOption(zones) }

type eventsOption []EventSpec

func (o eventsOption) apply(c *config) { c.events = append(c.events, []EventSpec(o)...) }

// WithEvents adds statically configured events, bound to a zone by name.
func WithEvents(events ...EventSpec) Option { return eventsOption(events) }

type preconditionsOption []PreconditionSpec

func (o preconditionsOption) apply(c *config) { c.preconditions = append(c.preconditions, []PreconditionSpec(o)...) }

// WithPreconditions adds statically configured preconditions, each gating a
// subset of the events added via WithEvents by name.
func WithPreconditions(preconditions ...PreconditionSpec) Option { return preconditionsOption(preconditions) }
