// SPDX-License-Identifier: BSD-3-Clause

package shutdown

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/ipc"
)

// RecoveryThreshold names one alarm property on a sensor and the stable
// countdown required, while the alarm stays clear, before recovery fires.
type RecoveryThreshold struct {
	Alarm           string
	StableCountdown time.Duration
}

// RecoverySensor is one monitored sensor and its thresholds.
type RecoverySensor struct {
	Path       string
	Thresholds []RecoveryThreshold
}

// RecoveryConfig mirrors the recovery-action.json schema: a single systemd
// target invoked once every monitored alarm across every sensor has stayed
// clear for its configured countdown.
type RecoveryConfig struct {
	Target  string
	Sensors []RecoverySensor
}

type recoveryKey struct {
	path  string
	alarm string
}

// RecoveryMonitor drives autonomous return-to-service: unlike Monitor, a
// timer here runs while the alarm is NOT tripped, and firing means recovery
// is safe, not that protection is needed.
type RecoveryMonitor struct {
	facade *bus.Facade
	cfg    RecoveryConfig
	logger *slog.Logger

	mu      sync.Mutex
	timers  map[recoveryKey]*time.Timer
	tripped map[recoveryKey]bool
	fired   bool
	sub     *bus.Subscription
}

// NewRecoveryMonitor constructs a RecoveryMonitor from cfg.
func NewRecoveryMonitor(facade *bus.Facade, cfg RecoveryConfig, logger *slog.Logger) *RecoveryMonitor {
	return &RecoveryMonitor{
		facade:  facade,
		cfg:     cfg,
		logger:  logger,
		timers:  make(map[recoveryKey]*time.Timer),
		tripped: make(map[recoveryKey]bool),
	}
}

// Start subscribes to property changes and seeds every configured alarm from
// its current value on the Threshold.Critical interface (alarm names starting
// with "Critical") or the Threshold.Warning interface (all others). A failed
// read counts as clear. Every alarm seeded as clear arms its initial countdown.
func (r *RecoveryMonitor) Start(ctx context.Context) error {
	sub, err := r.facade.Subscribe(ipc.InternalPropertyChanged, nil, r.propertiesChanged)
	if err != nil {
		return fmt.Errorf("shutdown: recovery subscribe PropertiesChanged: %w", err)
	}
	r.sub = sub

	for _, sensor := range r.cfg.Sensors {
		for _, th := range sensor.Thresholds {
			key := recoveryKey{path: sensor.Path, alarm: th.Alarm}

			iface := "xyz.openbmc_project.Sensor.Threshold.Warning"
			if strings.HasPrefix(th.Alarm, "Critical") {
				iface = "xyz.openbmc_project.Sensor.Threshold.Critical"
			}
			var asserted bool
			if err := r.facade.GetProperty(ctx, sensor.Path, iface, th.Alarm, &asserted); err != nil {
				asserted = false
			}
			r.setTripped(key, asserted, th.StableCountdown)
		}
	}
	return nil
}

// Stop unsubscribes and disarms every countdown.
func (r *RecoveryMonitor) Stop() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
		r.sub = nil
	}
	r.mu.Lock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[recoveryKey]*time.Timer)
	r.mu.Unlock()
}

func (r *RecoveryMonitor) propertiesChanged(ctx context.Context, sig bus.Signal, _ any) {
	th, ok := r.lookup(sig.Path, sig.Property)
	if !ok {
		return
	}
	var asserted bool
	if json.Unmarshal(sig.Value, &asserted) != nil {
		return
	}
	r.setTripped(recoveryKey{path: sig.Path, alarm: sig.Property}, asserted, th.StableCountdown)
}

func (r *RecoveryMonitor) lookup(path, alarm string) (RecoveryThreshold, bool) {
	for _, sensor := range r.cfg.Sensors {
		if sensor.Path != path {
			continue
		}
		for _, th := range sensor.Thresholds {
			if th.Alarm == alarm {
				return th, true
			}
		}
	}
	return RecoveryThreshold{}, false
}

// setTripped starts a stable countdown whenever the alarm is newly clear,
// and cancels any running countdown whenever the alarm (re)trips.
func (r *RecoveryMonitor) setTripped(key recoveryKey, tripped bool, countdown time.Duration) {
	r.mu.Lock()
	wasTripped, known := r.tripped[key]
	r.tripped[key] = tripped
	if tripped {
		if t, ok := r.timers[key]; ok {
			t.Stop()
			delete(r.timers, key)
		}
		r.fired = false
		r.mu.Unlock()
		return
	}
	if known && !wasTripped {
		r.mu.Unlock()
		return
	}
	timer := time.AfterFunc(countdown, func() { r.expire(key) })
	r.timers[key] = timer
	r.mu.Unlock()
}

// expire marks key's countdown as complete and checks whether every
// monitored alarm has now stayed clear long enough to fire recovery.
func (r *RecoveryMonitor) expire(key recoveryKey) {
	r.mu.Lock()
	delete(r.timers, key)
	r.mu.Unlock()
	r.checkRecovery(context.Background())
}

// checkRecovery fires the configured recovery target once every monitored
// alarm has an expired (or never-armed, i.e. already clear) countdown.
func (r *RecoveryMonitor) checkRecovery(ctx context.Context) {
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		return
	}
	for _, sensor := range r.cfg.Sensors {
		for _, th := range sensor.Thresholds {
			key := recoveryKey{path: sensor.Path, alarm: th.Alarm}
			if r.tripped[key] {
				r.mu.Unlock()
				return
			}
			if _, stillArmed := r.timers[key]; stillArmed {
				r.mu.Unlock()
				return
			}
		}
	}
	r.fired = true
	r.mu.Unlock()

	r.fireRecovery(ctx)
}

func (r *RecoveryMonitor) fireRecovery(ctx context.Context) {
	var reply struct{}
	if err := r.facade.CallMethod(ctx, "", "/org/freedesktop/systemd1", "org.freedesktop.systemd1.Manager", "StartUnit",
		[]any{r.cfg.Target, "replace"}, &reply); err != nil {
		r.logger.Error("shutdown: recovery unit start failed", slog.String("target", r.cfg.Target), slog.Any("error", err))
		return
	}
	r.logger.Info("shutdown: recovery target started", slog.String("target", r.cfg.Target))
	_ = r.facade.Publish(ipc.InternalRecoveryFired, bus.Signal{Interface: r.cfg.Target})
}
