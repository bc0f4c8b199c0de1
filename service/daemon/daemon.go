// SPDX-License-Identifier: BSD-3-Clause

// Package daemon supervises the fan presence, control, and shutdown-monitor
// services (plus telemetry and any extra services) under a restart-on-crash
// supervision tree, and handles the process-level SIGHUP (reload) and
// SIGUSR1 (flight recorder dump) signals.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"cirello.io/oversight/v2"
	"github.com/arunsworld/nursery"
	"github.com/nats-io/nats.go"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/flightrec"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/id"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/log"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/mount"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/process"
	"github.com/openbmc/phosphor-fan-presence-sub001/service"
)

const defaultLogo = `
 fan presence / control / shutdown protection daemon
`

var _ service.Service = (*Daemon)(nil)

// Daemon manages the lifecycle of the fan presence, control, and
// shutdown-monitor services in a supervised, fault-tolerant environment.
type Daemon struct {
	config
}

// New creates a Daemon with the given options.
func New(opts ...Option) *Daemon {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(cfg)
	}
	return &Daemon{config: *cfg}
}

// Name returns the daemon's registered name.
func (d *Daemon) Name() string {
	return d.name
}

// Run starts the supervision tree and blocks until ctx is canceled or a
// fatal error occurs. SIGHUP triggers the configured reload callback;
// SIGUSR1 dumps the flight recorder (if enabled) to its configured path.
func (d *Daemon) Run(ctx context.Context, ipcConn nats.InProcessConnProvider) (err error) {
	if d.name == "" {
		return ErrNameEmpty
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s %w: %v", d.Name(), ErrPanicked, r)
		}
	}()

	d.otelSetup()
	l := log.GetGlobalLogger()

	if d.id == "" {
		idStr, idErr := id.GetOrCreatePersistentID(d.Name(), "/var/lib/phosphor-fan-presence/daemon-id")
		if idErr != nil {
			l.ErrorContext(ctx, "failed to get/create persistent ID, using ephemeral ID", slog.Any("error", idErr))
			d.id = id.NewID()
		} else {
			d.id = idStr
		}
	}

	if !d.disableLogo {
		if d.customLogo != "" {
			l.Info(d.customLogo)
		} else {
			l.Info(defaultLogo)
		}
	}

	l.InfoContext(ctx, "checking filesystem mounts", slog.String("service", d.name))
	if err := mount.SetupMounts(); err != nil {
		l.WarnContext(ctx, "failed to setup mounts correctly, continuing anyway", slog.String("service", d.name), slog.Any("error", err))
	}

	if d.pidFilePath != "" {
		if err := os.WriteFile(d.pidFilePath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
			l.WarnContext(ctx, "failed to write pid file, fanctl reload will not find this process", slog.String("path", d.pidFilePath), slog.Any("error", err))
		} else {
			defer os.Remove(d.pidFilePath)
		}
	}

	if d.ipc == nil && ipcConn == nil {
		return ErrIPCNil
	}

	supervisionTree := oversight.New(
		oversight.NeverHalt(),
		oversight.DefaultRestartStrategy(),
		oversight.WithLogger(log.NewOversightLogger(l)),
	)

	if d.ipc != nil && ipcConn == nil {
		if err := supervisionTree.Add(
			process.New(d.ipc, nil),
			oversight.Transient(),
			oversight.Timeout(d.timeout),
			d.ipc.Name(),
		); err != nil {
			return fmt.Errorf("%w %s to tree: %w", ErrAddProcess, d.ipc.Name(), err)
		}
	}

	var recorder *flightrec.Recorder
	if d.flightrecCapacity > 0 {
		recorder = flightrec.New(d.flightrecCapacity, l.With(slog.String("component", "flightrec")))
	}

	supervise := func(ctx context.Context, c chan error) {
		c <- supervisionTree.Start(ctx)
	}

	spawnProcs := func(ctx context.Context, c chan error) {
		var conn nats.InProcessConnProvider
		if ipcConn != nil {
			conn = ipcConn
		} else {
			conn = d.ipc.GetConnProvider()
		}

		configValue := reflect.ValueOf(d.config)
		for i := range configValue.NumField() {
			field := configValue.Field(i)
			if !field.IsValid() || !field.CanInterface() {
				continue
			}
			v := field.Interface()
			if v == nil {
				continue
			}
			svc, ok := v.(service.Service)
			if !ok {
				continue
			}
			if err := supervisionTree.Add(
				process.New(svc, conn),
				oversight.Transient(),
				oversight.Timeout(d.timeout),
				svc.Name(),
			); err != nil {
				c <- fmt.Errorf("%w %s to tree: %w", ErrAddProcess, svc.Name(), err)
				return
			}
		}

		for _, svc := range d.extraServices {
			if err := supervisionTree.Add(
				process.New(svc, conn),
				oversight.Transient(),
				oversight.Timeout(d.timeout),
				svc.Name(),
			); err != nil {
				c <- fmt.Errorf("%w %s to tree: %w", ErrAddExtraService, svc.Name(), err)
				return
			}
		}

		if recorder != nil {
			nc, connErr := nats.Connect("", nats.InProcessServer(conn))
			if connErr != nil {
				l.ErrorContext(ctx, "flightrec: failed to connect, recorder disabled", slog.Any("error", connErr))
				return
			}
			facade := bus.New(nc, l.With(slog.String("component", "flightrec")))
			// Retry attach briefly: the IPC server may still be coming up.
			for attempt := 0; attempt < 10; attempt++ {
				if attachErr := recorder.Attach(facade); attachErr == nil {
					break
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
			}
		}
	}

	handleSignals := func(ctx context.Context, c chan error) {
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1)
		defer signal.Stop(sigCh)

		for {
			select {
			case <-ctx.Done():
				c <- nil
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					if d.reloadFn == nil {
						l.WarnContext(ctx, "received SIGHUP but no reload function is configured")
						continue
					}
					l.InfoContext(ctx, "received SIGHUP, reloading configuration")
					if err := d.reloadFn(ctx); err != nil {
						l.ErrorContext(ctx, "configuration reload failed, previous configuration preserved", slog.Any("error", err))
					}
				case syscall.SIGUSR1:
					if recorder == nil {
						l.WarnContext(ctx, "received SIGUSR1 but flight recorder is not enabled")
						continue
					}
					l.InfoContext(ctx, "received SIGUSR1, dumping flight recorder", slog.String("path", d.flightrecDumpPath))
					if err := recorder.Dump(d.flightrecDumpPath); err != nil {
						l.ErrorContext(ctx, "flight recorder dump failed", slog.Any("error", err))
					}
				}
			}
		}
	}

	l.InfoContext(ctx, "starting child routines", slog.String("service", d.name))
	return nursery.RunConcurrentlyWithContext(ctx, supervise, spawnProcs, handleSignals)
}
