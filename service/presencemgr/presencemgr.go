// SPDX-License-Identifier: BSD-3-Clause

// Package presencemgr wires pkg/presence.Engine to the bus as a
// supervised service.Service, exposing the fan presence NATS IPC subjects.
package presencemgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/ipc"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/powerstate"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/presence"
	"github.com/openbmc/phosphor-fan-presence-sub001/service"
)

var _ service.Service = (*PresenceMgr)(nil)

// PresenceMgr runs a PresenceEngine for a statically configured set of fans.
type PresenceMgr struct {
	cfg *config

	mu      sync.Mutex
	nc      *nats.Conn
	facade  *bus.Facade
	tracker *powerstate.Tracker
	engine  *presence.Engine
	micro   micro.Service
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// New creates a PresenceMgr with the given options.
func New(opts ...Option) *PresenceMgr {
	cfg := &config{
		serviceName: "presencemgr",
		powerPath:   "/xyz/openbmc_project/state/chassis0",
	}
	for _, opt := range opts {
		opt.apply(cfg)
	}
	return &PresenceMgr{cfg: cfg}
}

// Name returns the service's unique name.
func (p *PresenceMgr) Name() string {
	return p.cfg.serviceName
}

// Run connects to the bus, builds a PresenceEngine for every configured fan,
// and serves fan presence IPC endpoints until ctx is canceled.
func (p *PresenceMgr) Run(ctx context.Context, ipcConn nats.InProcessConnProvider) error {
	p.logger = slog.Default().With(slog.String("service", p.cfg.serviceName))

	nc, err := nats.Connect("", nats.InProcessServer(ipcConn))
	if err != nil {
		return fmt.Errorf("presencemgr: connect: %w", err)
	}
	defer nc.Drain() //nolint:errcheck

	p.mu.Lock()
	p.nc = nc
	p.facade = bus.New(nc, p.logger)
	p.tracker = powerstate.NewPGood(p.facade, p.cfg.powerPath, p.logger)
	p.engine = presence.NewEngine(p.facade, p.tracker, p.logger)
	p.mu.Unlock()

	if err := p.tracker.Start(ctx); err != nil {
		return fmt.Errorf("presencemgr: power tracker start: %w", err)
	}
	defer p.tracker.Stop() //nolint:errcheck

	for _, fc := range p.cfg.fans {
		if err := p.engine.AddFan(ctx, fc); err != nil {
			p.logger.ErrorContext(ctx, "presencemgr: failed to add fan", slog.String("fan", fc.Path), slog.Any("error", err))
		}
	}

	svc, err := micro.AddService(nc, micro.Config{
		Name:        p.cfg.serviceName,
		Description: "fan presence monitoring",
		Version:     "1.0.0",
	})
	if err != nil {
		return fmt.Errorf("presencemgr: micro service: %w", err)
	}
	p.micro = svc

	group, endpoint, err := ipc.ParseSubject(ipc.SubjectFanPresence)
	if err != nil {
		return err
	}
	grp := svc.AddGroup(group)
	if err := grp.AddEndpoint(endpoint, micro.HandlerFunc(p.handlePresence)); err != nil {
		return fmt.Errorf("presencemgr: register %s: %w", ipc.SubjectFanPresence, err)
	}
	if _, endpoint, err := ipc.ParseSubject(ipc.SubjectFanList); err == nil {
		if err := grp.AddEndpoint(endpoint, micro.HandlerFunc(p.handleList)); err != nil {
			return fmt.Errorf("presencemgr: register %s: %w", ipc.SubjectFanList, err)
		}
	}
	if _, endpoint, err := ipc.ParseSubject(ipc.SubjectFanStatus); err == nil {
		if err := grp.AddEndpoint(endpoint, micro.HandlerFunc(p.handleStatus)); err != nil {
			return fmt.Errorf("presencemgr: register %s: %w", ipc.SubjectFanStatus, err)
		}
	}

	p.logger.InfoContext(ctx, "presencemgr started", slog.Int("fans", len(p.cfg.fans)))

	<-ctx.Done()
	p.logger.InfoContext(context.WithoutCancel(ctx), "presencemgr shutting down")
	for _, path := range p.engine.Paths() {
		p.engine.RemoveFan(path)
	}
	return ctx.Err()
}

// Reload applies opts as a candidate configuration: fans no longer present
// are removed, new fans are added, and unchanged fans are left running.
// An error adding a new fan is logged and that fan is skipped; already
// applied removals/additions are not rolled back, matching the rest of the
// config surface's best-effort apply semantics (see DESIGN.md).
func (p *PresenceMgr) Reload(ctx context.Context, opts ...Option) error {
	p.mu.Lock()
	engine := p.engine
	p.mu.Unlock()
	if engine == nil {
		return fmt.Errorf("presencemgr: reload before start")
	}

	next := &config{serviceName: p.cfg.serviceName, powerPath: p.cfg.powerPath}
	for _, opt := range opts {
		opt.apply(next)
	}

	seen := make(map[string]bool, len(next.fans))
	for _, fc := range next.fans {
		seen[fc.Path] = true
	}
	for _, path := range engine.Paths() {
		if !seen[path] {
			engine.RemoveFan(path)
		}
	}

	existing := make(map[string]bool)
	for _, path := range engine.Paths() {
		existing[path] = true
	}
	for _, fc := range next.fans {
		if existing[fc.Path] {
			continue
		}
		if err := engine.AddFan(ctx, fc); err != nil {
			p.logger.ErrorContext(ctx, "presencemgr: reload failed to add fan", slog.String("fan", fc.Path), slog.Any("error", err))
		}
	}

	p.mu.Lock()
	p.cfg = next
	p.mu.Unlock()
	return nil
}

type fanPresenceRequest struct {
	Path string `json:"path"`
}

type fanPresenceResponse struct {
	Path    string `json:"path"`
	Present bool   `json:"present"`
}

func (p *PresenceMgr) handlePresence(req micro.Request) {
	var r fanPresenceRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		_ = req.Error("400", "invalid request", nil)
		return
	}
	present, ok := p.engine.Present(r.Path)
	if !ok {
		_ = req.Error("404", "fan not found", nil)
		return
	}
	data, _ := json.Marshal(fanPresenceResponse{Path: r.Path, Present: present})
	_ = req.Respond(data)
}

func (p *PresenceMgr) handleList(req micro.Request) {
	data, _ := json.Marshal(struct {
		Fans []string `json:"fans"`
	}{Fans: p.engine.Paths()})
	_ = req.Respond(data)
}

// fanStatusEntry reports a fan's Inventory.Item.Present alongside the
// State.Decorator.OperationalStatus.Functional and
// State.Decorator.Availability.Available properties publishPresence keeps
// in lockstep with it.
type fanStatusEntry struct {
	Present    bool `json:"present"`
	Functional bool `json:"functional"`
	Available  bool `json:"available"`
}

func (p *PresenceMgr) handleStatus(req micro.Request) {
	paths := p.engine.Paths()
	status := make(map[string]fanStatusEntry, len(paths))
	for _, path := range paths {
		present, _ := p.engine.Present(path)
		status[path] = fanStatusEntry{Present: present, Functional: present, Available: present}
	}
	data, _ := json.Marshal(status)
	_ = req.Respond(data)
}
