// SPDX-License-Identifier: BSD-3-Clause

// Package shutdownmon wires pkg/shutdown's Monitor (and optional
// RecoveryMonitor) to the bus as a supervised service.Service, exposing the
// shutdown alarm NATS IPC subjects.
package shutdownmon

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
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/persist"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/powerstate"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/shutdown"
	"github.com/openbmc/phosphor-fan-presence-sub001/service"
)

var _ service.Service = (*ShutdownMon)(nil)

// ShutdownMon runs a shutdown.Monitor and, if configured, a parallel
// shutdown.RecoveryMonitor.
type ShutdownMon struct {
	cfg *config

	mu       sync.Mutex
	facade   *bus.Facade
	tracker  *powerstate.Tracker
	store    *persist.Store
	monitor  *shutdown.Monitor
	recovery *shutdown.RecoveryMonitor
	micro    micro.Service
	logger   *slog.Logger
}

// New creates a ShutdownMon with the given options.
func New(opts ...Option) *ShutdownMon {
	cfg := &config{
		serviceName: "shutdownmon",
		powerPath:   "/xyz/openbmc_project/state/chassis0",
		persistPath: "/var/lib/phosphor-fan-presence/shutdownAlarmStartTimes",
	}
	for _, opt := range opts {
		opt.apply(cfg)
	}
	return &ShutdownMon{cfg: cfg}
}

// Name returns the service's unique name.
func (s *ShutdownMon) Name() string {
	return s.cfg.serviceName
}

// Run connects to the bus, loads persisted alarm start times, starts the
// Monitor (and optional RecoveryMonitor), and serves alarm IPC endpoints
// until ctx is canceled.
func (s *ShutdownMon) Run(ctx context.Context, ipcConn nats.InProcessConnProvider) error {
	s.logger = slog.Default().With(slog.String("service", s.cfg.serviceName))

	nc, err := nats.Connect("", nats.InProcessServer(ipcConn))
	if err != nil {
		return fmt.Errorf("shutdownmon: connect: %w", err)
	}
	defer nc.Drain() //nolint:errcheck

	store, err := persist.Open(s.cfg.persistPath)
	if err != nil {
		return fmt.Errorf("shutdownmon: open persisted alarm timestamps: %w", err)
	}

	s.mu.Lock()
	s.facade = bus.New(nc, s.logger)
	s.tracker = powerstate.NewPGood(s.facade, s.cfg.powerPath, s.logger)
	s.store = store
	s.monitor = shutdown.NewMonitor(s.facade, s.tracker, s.store, s.cfg.hardDelay, s.cfg.softDelay, s.logger)
	if s.cfg.recovery != nil {
		s.recovery = shutdown.NewRecoveryMonitor(s.facade, *s.cfg.recovery, s.logger)
	}
	s.mu.Unlock()

	if err := s.tracker.Start(ctx); err != nil {
		return fmt.Errorf("shutdownmon: power tracker start: %w", err)
	}
	defer s.tracker.Stop() //nolint:errcheck

	if err := s.monitor.Start(ctx); err != nil {
		return fmt.Errorf("shutdownmon: monitor start: %w", err)
	}
	defer s.monitor.Stop()

	if s.recovery != nil {
		if err := s.recovery.Start(ctx); err != nil {
			s.logger.ErrorContext(ctx, "shutdownmon: recovery monitor start failed", slog.Any("error", err))
		} else {
			defer s.recovery.Stop()
		}
	}

	svc, err := micro.AddService(nc, micro.Config{
		Name:        s.cfg.serviceName,
		Description: "shutdown alarm monitoring",
		Version:     "1.0.0",
	})
	if err != nil {
		return fmt.Errorf("shutdownmon: micro service: %w", err)
	}
	s.micro = svc

	grp := svc.AddGroup("alarm")
	if _, endpoint, err := ipc.ParseSubject(ipc.SubjectAlarmStatus); err == nil {
		if err := grp.AddEndpoint(endpoint, micro.HandlerFunc(s.handleStatus)); err != nil {
			return fmt.Errorf("shutdownmon: register %s: %w", ipc.SubjectAlarmStatus, err)
		}
	}
	if _, endpoint, err := ipc.ParseSubject(ipc.SubjectAlarmList); err == nil {
		if err := grp.AddEndpoint(endpoint, micro.HandlerFunc(s.handleList)); err != nil {
			return fmt.Errorf("shutdownmon: register %s: %w", ipc.SubjectAlarmList, err)
		}
	}
	if _, endpoint, err := ipc.ParseSubject(ipc.SubjectAlarmDump); err == nil {
		if err := grp.AddEndpoint(endpoint, micro.HandlerFunc(s.handleDump)); err != nil {
			return fmt.Errorf("shutdownmon: register %s: %w", ipc.SubjectAlarmDump, err)
		}
	}

	s.logger.InfoContext(ctx, "shutdownmon started", slog.Bool("recovery_enabled", s.recovery != nil))

	<-ctx.Done()
	s.logger.InfoContext(context.WithoutCancel(ctx), "shutdownmon shutting down")
	return ctx.Err()
}

// Reload applies a candidate (hardDelay, softDelay, recovery) configuration
// built from opts. Delay changes take effect for the next alarm assertion;
// already-armed timers keep their originally computed delay. A recovery
// configuration change stops and replaces the RecoveryMonitor entirely,
// since its per-sensor countdown state cannot be partially patched.
func (s *ShutdownMon) Reload(ctx context.Context, opts ...Option) error {
	s.mu.Lock()
	monitor := s.monitor
	facade := s.facade
	oldRecovery := s.recovery
	s.mu.Unlock()
	if monitor == nil {
		return fmt.Errorf("shutdownmon: reload before start")
	}

	next := &config{
		serviceName: s.cfg.serviceName,
		powerPath:   s.cfg.powerPath,
		persistPath: s.cfg.persistPath,
		hardDelay:   s.cfg.hardDelay,
		softDelay:   s.cfg.softDelay,
		recovery:    s.cfg.recovery,
	}
	for _, opt := range opts {
		opt.apply(next)
	}

	monitor.SetDelays(next.hardDelay, next.softDelay)

	var newRecovery *shutdown.RecoveryMonitor
	if next.recovery != nil {
		newRecovery = shutdown.NewRecoveryMonitor(facade, *next.recovery, s.logger)
		if err := newRecovery.Start(ctx); err != nil {
			s.logger.ErrorContext(ctx, "shutdownmon: reload: recovery monitor start failed", slog.Any("error", err))
			newRecovery = nil
		}
	}

	s.mu.Lock()
	s.recovery = newRecovery
	s.cfg = next
	s.mu.Unlock()

	if oldRecovery != nil {
		oldRecovery.Stop()
	}
	return nil
}

func (s *ShutdownMon) handleStatus(req micro.Request) {
	entries := s.store.All()
	out := make([]map[string]any, 0, len(entries))
	for k, v := range entries {
		out = append(out, map[string]any{
			"sensor_path": k.SensorPath,
			"severity":    int(k.Severity),
			"direction":   int(k.Direction),
			"start_ms":    v,
			"state":       s.monitor.AlarmState(context.Background(), k),
		})
	}
	data, _ := json.Marshal(struct {
		Alarms []map[string]any `json:"alarms"`
	}{Alarms: out})
	_ = req.Respond(data)
}

func (s *ShutdownMon) handleList(req micro.Request) {
	s.handleStatus(req)
}

func (s *ShutdownMon) handleDump(req micro.Request) {
	s.handleStatus(req)
}
