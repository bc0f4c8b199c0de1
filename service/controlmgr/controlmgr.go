// SPDX-License-Identifier: BSD-3-Clause

// Package controlmgr wires pkg/control's Zone/Event machinery to the bus as
// a supervised service.Service, exposing the fan control NATS IPC subjects.
package controlmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/control"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/ipc"
	"github.com/openbmc/phosphor-fan-presence-sub001/service"
)

var _ service.Service = (*ControlMgr)(nil)

// ControlMgr runs a set of statically configured Zones and Events.
type ControlMgr struct {
	cfg *config

	mu            sync.Mutex
	facade        *bus.Facade
	zones         map[string]*control.Zone
	events        []*control.Event
	preconditions []*control.Precondition
	micro         micro.Service
	logger        *slog.Logger
}

// New creates a ControlMgr with the given options.
func New(opts ...Option) *ControlMgr {
	cfg := &config{serviceName: "controlmgr"}
	for _, opt := range opts {
		opt.apply(cfg)
	}
	return &ControlMgr{cfg: cfg}
}

// Name returns the service's unique name.
func (c *ControlMgr) Name() string {
	return c.cfg.serviceName
}

// Run connects to the bus, constructs every configured zone and event, and
// serves zone control IPC endpoints until ctx is canceled.
func (c *ControlMgr) Run(ctx context.Context, ipcConn nats.InProcessConnProvider) error {
	c.logger = slog.Default().With(slog.String("service", c.cfg.serviceName))

	nc, err := nats.Connect("", nats.InProcessServer(ipcConn))
	if err != nil {
		return fmt.Errorf("controlmgr: connect: %w", err)
	}
	defer nc.Drain() //nolint:errcheck

	c.mu.Lock()
	c.facade = bus.New(nc, c.logger)
	c.zones = make(map[string]*control.Zone, len(c.cfg.zones))
	for _, zs := range c.cfg.zones {
		c.zones[zs.Name] = control.NewZone(zs.Name, c.facade, c.logger, zs.DefaultFloor, zs.DefaultCeiling, zs.Fans)
	}
	c.mu.Unlock()

	claimedByPrecondition := make(map[string]bool)
	for _, ps := range c.cfg.preconditions {
		for _, name := range ps.Contains {
			claimedByPrecondition[name] = true
		}
	}

	builtEvents := make(map[string]*control.Event, len(c.cfg.events))
	for _, es := range c.cfg.events {
		zone, ok := c.zones[es.Zone]
		if !ok {
			c.logger.ErrorContext(ctx, "controlmgr: event references unknown zone", slog.String("event", es.Name), slog.String("zone", es.Zone))
			continue
		}
		ev := control.NewEvent(es.Name, zone, es.Group, es.Trigger, es.Actions, c.facade, c.logger)
		builtEvents[es.Name] = ev
		if claimedByPrecondition[es.Name] {
			continue
		}
		if err := ev.Init(ctx); err != nil {
			c.logger.ErrorContext(ctx, "controlmgr: event init failed", slog.String("event", es.Name), slog.Any("error", err))
			continue
		}
		c.events = append(c.events, ev)
	}

	for _, ps := range c.cfg.preconditions {
		zone, ok := c.zones[ps.Zone]
		if !ok {
			c.logger.ErrorContext(ctx, "controlmgr: precondition references unknown zone", slog.String("precondition", ps.Name), slog.String("zone", ps.Zone))
			continue
		}
		contains := make([]*control.Event, 0, len(ps.Contains))
		for _, name := range ps.Contains {
			if ev, ok := builtEvents[name]; ok {
				contains = append(contains, ev)
			}
		}
		pc := control.NewPrecondition(ps.Name, zone, ps.Matches, contains, c.facade, c.logger)
		if err := pc.Init(ctx); err != nil {
			c.logger.ErrorContext(ctx, "controlmgr: precondition init failed", slog.String("precondition", ps.Name), slog.Any("error", err))
			continue
		}
		c.preconditions = append(c.preconditions, pc)
	}

	svc, err := micro.AddService(nc, micro.Config{
		Name:        c.cfg.serviceName,
		Description: "fan zone control",
		Version:     "1.0.0",
	})
	if err != nil {
		return fmt.Errorf("controlmgr: micro service: %w", err)
	}
	c.micro = svc

	grp := svc.AddGroup("zone")
	registrations := []struct {
		subject string
		handler micro.HandlerFunc
	}{
		{ipc.SubjectZoneStatus, c.handleStatus},
		{ipc.SubjectZoneSet, c.handleSet},
		{ipc.SubjectZoneList, c.handleList},
		{ipc.SubjectZoneLock, c.handleLock},
		{ipc.SubjectZoneUnlock, c.handleUnlock},
	}
	for _, r := range registrations {
		_, endpoint, err := ipc.ParseSubject(r.subject)
		if err != nil {
			return err
		}
		if err := grp.AddEndpoint(endpoint, r.handler); err != nil {
			return fmt.Errorf("controlmgr: register %s: %w", r.subject, err)
		}
	}

	c.logger.InfoContext(ctx, "controlmgr started", slog.Int("zones", len(c.zones)), slog.Int("events", len(c.events)), slog.Int("preconditions", len(c.preconditions)))

	<-ctx.Done()
	c.logger.InfoContext(context.WithoutCancel(ctx), "controlmgr shutting down")
	for _, pc := range c.preconditions {
		pc.Deinit()
	}
	for _, ev := range c.events {
		ev.Deinit()
	}
	return ctx.Err()
}

// Reload tears down every running event and precondition and rebuilds the
// full zone/event/precondition set from opts, matching the "construct a
// full candidate, then swap" reload contract: zones are rebuilt in place
// (existing floor/ceiling/locks are lost on reload, by design — a reload
// is a configuration change, not a live-state migration), and events and
// preconditions are always entirely re-initialized since their wiring
// (triggers, group membership snapshots) cannot be partially patched.
func (c *ControlMgr) Reload(ctx context.Context, opts ...Option) error {
	c.mu.Lock()
	nc := c.facade
	c.mu.Unlock()
	if nc == nil {
		return fmt.Errorf("controlmgr: reload before start")
	}

	next := &config{serviceName: c.cfg.serviceName}
	for _, opt := range opts {
		opt.apply(next)
	}

	newZones := make(map[string]*control.Zone, len(next.zones))
	for _, zs := range next.zones {
		newZones[zs.Name] = control.NewZone(zs.Name, c.facade, c.logger, zs.DefaultFloor, zs.DefaultCeiling, zs.Fans)
	}

	claimedByPrecondition := make(map[string]bool)
	for _, ps := range next.preconditions {
		for _, name := range ps.Contains {
			claimedByPrecondition[name] = true
		}
	}

	builtEvents := make(map[string]*control.Event, len(next.events))
	newEvents := make([]*control.Event, 0, len(next.events))
	for _, es := range next.events {
		zone, ok := newZones[es.Zone]
		if !ok {
			c.logger.ErrorContext(ctx, "controlmgr: reload: event references unknown zone", slog.String("event", es.Name), slog.String("zone", es.Zone))
			continue
		}
		ev := control.NewEvent(es.Name, zone, es.Group, es.Trigger, es.Actions, c.facade, c.logger)
		builtEvents[es.Name] = ev
		if claimedByPrecondition[es.Name] {
			continue
		}
		if err := ev.Init(ctx); err != nil {
			c.logger.ErrorContext(ctx, "controlmgr: reload: event init failed", slog.String("event", es.Name), slog.Any("error", err))
			continue
		}
		newEvents = append(newEvents, ev)
	}

	newPreconditions := make([]*control.Precondition, 0, len(next.preconditions))
	for _, ps := range next.preconditions {
		zone, ok := newZones[ps.Zone]
		if !ok {
			c.logger.ErrorContext(ctx, "controlmgr: reload: precondition references unknown zone", slog.String("precondition", ps.Name), slog.String("zone", ps.Zone))
			continue
		}
		contains := make([]*control.Event, 0, len(ps.Contains))
		for _, name := range ps.Contains {
			if ev, ok := builtEvents[name]; ok {
				contains = append(contains, ev)
			}
		}
		pc := control.NewPrecondition(ps.Name, zone, ps.Matches, contains, c.facade, c.logger)
		if err := pc.Init(ctx); err != nil {
			c.logger.ErrorContext(ctx, "controlmgr: reload: precondition init failed", slog.String("precondition", ps.Name), slog.Any("error", err))
			continue
		}
		newPreconditions = append(newPreconditions, pc)
	}

	c.mu.Lock()
	oldEvents, oldPreconditions := c.events, c.preconditions
	c.zones, c.events, c.preconditions, c.cfg = newZones, newEvents, newPreconditions, next
	c.mu.Unlock()

	for _, pc := range oldPreconditions {
		pc.Deinit()
	}
	for _, ev := range oldEvents {
		ev.Deinit()
	}
	return nil
}

type zoneNameRequest struct {
	Zone string `json:"zone"`
}

type zoneStatusResponse struct {
	Zone    string `json:"zone"`
	Floor   uint64 `json:"floor"`
	Ceiling uint64 `json:"ceiling"`
}

func (c *ControlMgr) handleStatus(req micro.Request) {
	var r zoneNameRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		_ = req.Error("400", "invalid request", nil)
		return
	}
	zone, ok := c.zones[r.Zone]
	if !ok {
		_ = req.Error("404", "zone not found", nil)
		return
	}
	data, _ := json.Marshal(zoneStatusResponse{Zone: r.Zone, Floor: zone.Floor(), Ceiling: zone.Ceiling()})
	_ = req.Respond(data)
}

type zoneSetRequest struct {
	Zone   string `json:"zone"`
	Target uint64 `json:"target"`
}

func (c *ControlMgr) handleSet(req micro.Request) {
	var r zoneSetRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		_ = req.Error("400", "invalid request", nil)
		return
	}
	zone, ok := c.zones[r.Zone]
	if !ok {
		_ = req.Error("404", "zone not found", nil)
		return
	}
	zone.SetSpeed(r.Target)
	_ = req.Respond([]byte(`{"ok":true}`))
}

func (c *ControlMgr) handleList(req micro.Request) {
	names := make([]string, 0, len(c.zones))
	for name := range c.zones {
		names = append(names, name)
	}
	data, _ := json.Marshal(struct {
		Zones []string `json:"zones"`
	}{Zones: names})
	_ = req.Respond(data)
}

type zoneLockRequest struct {
	Zone  string `json:"zone"`
	Value uint64 `json:"value"`
}

func (c *ControlMgr) handleLock(req micro.Request) {
	var r zoneLockRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		_ = req.Error("400", "invalid request", nil)
		return
	}
	zone, ok := c.zones[r.Zone]
	if !ok {
		_ = req.Error("404", "zone not found", nil)
		return
	}
	zone.LockTarget(r.Value)
	_ = req.Respond([]byte(`{"ok":true}`))
}

// handleUnlock implements the external "resume" operation: it clears every
// lock on the zone regardless of value, since a CLI caller has no specific
// lock value to match (unlike the internal precondition lock/unlock pairs,
// which still use Zone.UnlockTarget directly).
func (c *ControlMgr) handleUnlock(req micro.Request) {
	var r zoneNameRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		_ = req.Error("400", "invalid request", nil)
		return
	}
	zone, ok := c.zones[r.Zone]
	if !ok {
		_ = req.Error("404", "zone not found", nil)
		return
	}
	zone.UnlockAll()
	_ = req.Respond([]byte(`{"ok":true}`))
}
