// SPDX-License-Identifier: BSD-3-Clause

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/ipc"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/powerstate"
)

const (
	ifaceInventoryItem     = "xyz.openbmc_project.Inventory.Item"
	ifaceOperationalStatus = "xyz.openbmc_project.State.Decorator.OperationalStatus"
	ifaceAvailability      = "xyz.openbmc_project.State.Decorator.Availability"
)

// managedFan pairs a fan's static configuration with its live redundancy policy.
type managedFan struct {
	cfg    FanConfig
	policy RedundancyPolicy
}

// Engine is the PresenceEngine: it owns every configured fan's sensors and
// redundancy policy, publishes each fan's combined Present state over the
// bus, and drives ErrorReporter for fans with a missing-time budget.
type Engine struct {
	facade   *bus.Facade
	tracker  *powerstate.Tracker
	reporter *ErrorReporter
	logger   *slog.Logger

	mu   sync.Mutex
	fans map[string]*managedFan
}

// NewEngine constructs an Engine. tracker gates both AnyOf's conflict
// detection and ErrorReporter's missing-time timers.
func NewEngine(facade *bus.Facade, tracker *powerstate.Tracker, logger *slog.Logger) *Engine {
	e := &Engine{
		facade:   facade,
		tracker:  tracker,
		reporter: NewErrorReporter(tracker, logger),
		logger:   logger,
		fans:     make(map[string]*managedFan),
	}
	tracker.AddCallback("presence-engine-reporter", e.onPowerStateChanged)
	return e
}

// AddFan builds the sensors and redundancy policy for cfg, starts
// monitoring, and publishes the fan's initial presence.
func (e *Engine) AddFan(ctx context.Context, cfg FanConfig) error {
	var eeprom *EEPROMDevice
	if cfg.EEPROMDriver != "" {
		eeprom = NewEEPROMDevice(cfg.EEPROMDriver, cfg.EEPROMAddress, cfg.EEPROMDelay, e.logger)
	}

	publish := func(present bool) { e.publishPresence(cfg.Path, present) }

	var dispatch func(ctx context.Context, idx int, present bool)
	sensors := make([]Sensor, len(cfg.Sensors))
	for i, spec := range cfg.Sensors {
		idx := i
		onChange := func(present bool) {
			if dispatch != nil {
				dispatch(context.Background(), idx, present)
			}
		}
		sensors[i] = e.buildSensor(cfg, spec, onChange)
	}

	var policy RedundancyPolicy
	switch cfg.Policy {
	case PolicyFallback:
		fb := NewFallback(cfg.Path, sensors, eeprom, publish, e.logger)
		dispatch = fb.StateChanged
		policy = fb
	default:
		ao := NewAnyOf(cfg.Path, sensors, eeprom, e.tracker, publish, e.logger)
		dispatch = ao.StateChanged
		policy = ao
	}

	if cfg.MissingTimeBudget > 0 {
		e.reporter.Register(cfg.Path, cfg.MissingTimeBudget)
	}

	if err := policy.Monitor(ctx); err != nil {
		return fmt.Errorf("presence: monitor fan %s: %w", cfg.Path, err)
	}
	e.reporter.CheckFan(cfg.Path, policy.Present(), true)

	e.mu.Lock()
	e.fans[cfg.Path] = &managedFan{cfg: cfg, policy: policy}
	e.mu.Unlock()

	return nil
}

// RemoveFan stops a previously added fan's sensors and timers.
func (e *Engine) RemoveFan(path string) {
	e.mu.Lock()
	mf, ok := e.fans[path]
	if ok {
		delete(e.fans, path)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	mf.policy.Stop()
	e.reporter.Unregister(path)
}

// Present returns the last published presence state of path, if known.
func (e *Engine) Present(path string) (bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mf, ok := e.fans[path]
	if !ok {
		return false, false
	}
	return mf.policy.Present(), true
}

// Paths returns every currently managed fan's object path.
func (e *Engine) Paths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	paths := make([]string, 0, len(e.fans))
	for p := range e.fans {
		paths = append(paths, p)
	}
	return paths
}

func (e *Engine) buildSensor(cfg FanConfig, spec SensorSpec, onChange func(bool)) Sensor {
	switch spec.Kind {
	case SensorTach:
		return NewTachSensor(e.facade, spec.TachPath, cfg.Path, e.logger, onChange)
	case SensorGPIO:
		return NewGPIOSensorOrNull(spec.Chip, spec.Line, spec.AssertedLevel, cfg.Path, e.logger, onChange)
	default:
		return NewNullSensor(cfg.Path, spec.NullReason, e.logger)
	}
}

func (e *Engine) publishPresence(path string, present bool) {
	ctx := context.Background()

	if err := e.facade.SetProperty(ctx, path, ifaceInventoryItem, "Present", present); err != nil {
		e.logger.Warn("presence: publish Present property failed",
			slog.String("path", path), slog.Any("error", err))
	}

	// A fan that isn't present can't be functional or available; absent any
	// independent health signal (tach-in-range, no fault logged), presence
	// is the only input to these two decorators.
	if err := e.facade.SetProperty(ctx, path, ifaceOperationalStatus, "Functional", present); err != nil {
		e.logger.Warn("presence: publish Functional property failed",
			slog.String("path", path), slog.Any("error", err))
	}
	if err := e.facade.SetProperty(ctx, path, ifaceAvailability, "Available", present); err != nil {
		e.logger.Warn("presence: publish Available property failed",
			slog.String("path", path), slog.Any("error", err))
	}

	value, err := json.Marshal(present)
	if err == nil {
		sig := bus.Signal{Path: path, Interface: ifaceInventoryItem, Property: "Present", Value: value}
		if err := e.facade.Publish(ipc.InternalPresenceChanged, sig); err != nil {
			e.logger.Warn("presence: publish presence signal failed",
				slog.String("path", path), slog.Any("error", err))
		}
	}

	e.reporter.CheckFan(path, present, true)
}

func (e *Engine) onPowerStateChanged(ctx context.Context, poweredOn bool) {
	e.mu.Lock()
	fans := make([]*managedFan, 0, len(e.fans))
	for _, mf := range e.fans {
		fans = append(fans, mf)
	}
	e.mu.Unlock()

	for _, mf := range fans {
		e.reporter.CheckFan(mf.cfg.Path, mf.policy.Present(), false)
	}
}
