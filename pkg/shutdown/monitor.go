// SPDX-License-Identifier: BSD-3-Clause

// Package shutdown implements ShutdownMonitor: the hard/soft shutdown alarm
// watcher that arms a grace-period timer on assertion, persists the timer's
// start time so a daemon restart resumes the correct remaining delay, and
// triggers protective poweroff on expiry. It also implements the parallel
// Recovery-alarm handler that drives autonomous return-to-service.
package shutdown

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/ipc"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/persist"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/powerstate"
)

const (
	ifaceHardShutdown = "xyz.openbmc_project.Sensor.Threshold.HardShutdown"
	ifaceSoftShutdown = "xyz.openbmc_project.Sensor.Threshold.SoftShutdown"
	ifaceSensorValue  = "xyz.openbmc_project.Sensor.Value"

	sensorsRoot = "/xyz/openbmc_project/sensors"

	protectionTarget = "obmc-chassis-hard-poweroff@0.target"
)

var propertyByDirection = map[persist.Direction]string{
	persist.DirectionHigh: "High",
	persist.DirectionLow:  "Low",
}

// alarmProperty returns the bus property name for (severity, direction),
// e.g. HardShutdownAlarmHigh.
func alarmProperty(severity persist.Severity, direction persist.Direction) string {
	kind := "Hard"
	if severity == persist.SeveritySoftShutdown {
		kind = "Soft"
	}
	return fmt.Sprintf("%sShutdownAlarm%s", kind, propertyByDirection[direction])
}

// Monitor is the ShutdownMonitor: it watches every sensor's hard/soft
// shutdown threshold alarms and drives protective poweroff.
type Monitor struct {
	facade  *bus.Facade
	tracker *powerstate.Tracker
	store   *persist.Store
	logger  *slog.Logger

	hardDelay time.Duration
	softDelay time.Duration

	mu     sync.Mutex
	timers map[persist.Key]*time.Timer
	alarms map[persist.Key]*alarmFSM
	sub    *bus.Subscription
}

// NewMonitor constructs a Monitor. store must already be Open'd; Monitor
// does not own the store's lifetime.
func NewMonitor(facade *bus.Facade, tracker *powerstate.Tracker, store *persist.Store, hardDelay, softDelay time.Duration, logger *slog.Logger) *Monitor {
	m := &Monitor{
		facade:  facade,
		tracker: tracker,
		store:   store,
		hardDelay: hardDelay,
		softDelay: softDelay,
		logger:  logger,
		timers:  make(map[persist.Key]*time.Timer),
		alarms:  make(map[persist.Key]*alarmFSM),
	}
	tracker.AddCallback("shutdown-monitor", m.powerStateChanged)
	return m
}

// Start discovers every alarm-capable sensor, subscribes to property
// changes, and — if the chassis is already powered on — checks every alarm
// and prunes stale persisted entries.
func (m *Monitor) Start(ctx context.Context) error {
	keys, err := m.findAlarms(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: findAlarms: %w", err)
	}

	sub, err := m.facade.Subscribe(ipc.InternalPropertyChanged, nil, m.propertiesChanged)
	if err != nil {
		return fmt.Errorf("shutdown: subscribe PropertiesChanged: %w", err)
	}
	m.sub = sub

	if m.tracker.IsPowerOn() {
		m.checkAlarms(ctx, keys)
		m.pruneStale(keys)
	}

	return nil
}

// SetDelays updates the configured hard/soft grace periods used for any
// timer armed after this call; already-running timers are not rearmed.
func (m *Monitor) SetDelays(hardDelay, softDelay time.Duration) {
	m.mu.Lock()
	m.hardDelay = hardDelay
	m.softDelay = softDelay
	m.mu.Unlock()
}

// Stop unsubscribes and disarms every timer without clearing persisted state.
func (m *Monitor) Stop() {
	if m.sub != nil {
		_ = m.sub.Unsubscribe()
		m.sub = nil
	}
	m.mu.Lock()
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = make(map[persist.Key]*time.Timer)
	m.alarms = make(map[persist.Key]*alarmFSM)
	m.mu.Unlock()
}

// AlarmState returns the current armed/countingDown/triggered/cleared state
// for key, or "" if no alarm state machine exists for it (never asserted,
// or cleared and since forgotten).
func (m *Monitor) AlarmState(ctx context.Context, key persist.Key) string {
	m.mu.Lock()
	fsm := m.alarms[key]
	m.mu.Unlock()
	if fsm == nil {
		return ""
	}
	return fsm.state(ctx)
}

// findAlarms discovers every sensor exposing a shutdown interface and
// preseeds the key set with both directions for both severities.
func (m *Monitor) findAlarms(ctx context.Context) ([]persist.Key, error) {
	var keys []persist.Key

	for _, pair := range []struct {
		iface    string
		severity persist.Severity
	}{
		{ifaceHardShutdown, persist.SeverityHardShutdown},
		{ifaceSoftShutdown, persist.SeveritySoftShutdown},
	} {
		paths, err := m.facade.GetSubTreePaths(ctx, sensorsRoot, pair.iface, 0)
		if err != nil {
			m.logger.Debug("shutdown: subtree lookup failed", slog.String("interface", pair.iface), slog.Any("error", err))
			continue
		}
		for _, path := range paths {
			keys = append(keys,
				persist.Key{SensorPath: path, Severity: pair.severity, Direction: persist.DirectionHigh},
				persist.Key{SensorPath: path, Severity: pair.severity, Direction: persist.DirectionLow},
			)
		}
	}

	return keys, nil
}

// checkAlarms reads every alarm property once and acts as if it had just changed.
func (m *Monitor) checkAlarms(ctx context.Context, keys []persist.Key) {
	for _, key := range keys {
		iface := ifaceHardShutdown
		if key.Severity == persist.SeveritySoftShutdown {
			iface = ifaceSoftShutdown
		}
		property := alarmProperty(key.Severity, key.Direction)

		var asserted bool
		if err := m.facade.GetProperty(ctx, key.SensorPath, iface, property, &asserted); err != nil {
			continue
		}
		m.checkAlarm(ctx, asserted, key)
	}
}

// pruneStale removes persisted entries with no corresponding running timer.
func (m *Monitor) pruneStale(keys []persist.Key) {
	m.mu.Lock()
	keep := make(map[persist.Key]struct{}, len(m.timers))
	for k := range m.timers {
		keep[k] = struct{}{}
	}
	m.mu.Unlock()

	if err := m.store.Prune(keep); err != nil {
		m.logger.Warn("shutdown: prune stale persisted timers failed", slog.Any("error", err))
	}
}

func (m *Monitor) propertiesChanged(ctx context.Context, sig bus.Signal, _ any) {
	if !m.tracker.IsPowerOn() {
		return
	}
	severity, direction, ok := classify(sig.Interface, sig.Property)
	if !ok {
		return
	}
	var asserted bool
	if json.Unmarshal(sig.Value, &asserted) != nil {
		return
	}
	m.checkAlarm(ctx, asserted, persist.Key{SensorPath: sig.Path, Severity: severity, Direction: direction})
}

func classify(iface, property string) (persist.Severity, persist.Direction, bool) {
	var severity persist.Severity
	switch iface {
	case ifaceHardShutdown:
		severity = persist.SeverityHardShutdown
	case ifaceSoftShutdown:
		severity = persist.SeveritySoftShutdown
	default:
		return 0, 0, false
	}
	switch property {
	case "HardShutdownAlarmHigh", "SoftShutdownAlarmHigh":
		return severity, persist.DirectionHigh, true
	case "HardShutdownAlarmLow", "SoftShutdownAlarmLow":
		return severity, persist.DirectionLow, true
	default:
		return 0, 0, false
	}
}

func (m *Monitor) checkAlarm(ctx context.Context, asserted bool, key persist.Key) {
	m.mu.Lock()
	_, running := m.timers[key]
	m.mu.Unlock()

	if asserted && !running {
		m.startTimer(ctx, key)
	} else if !asserted && running {
		m.stopTimer(ctx, key)
	}
}

func (m *Monitor) delayFor(key persist.Key) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.Severity == persist.SeveritySoftShutdown {
		return m.softDelay
	}
	return m.hardDelay
}

func (m *Monitor) startTimer(ctx context.Context, key persist.Key) {
	var value float64
	valueStr := ""
	if err := m.facade.GetProperty(ctx, key.SensorPath, ifaceSensorValue, "Value", &value); err == nil {
		valueStr = fmt.Sprintf("%v", value)
	}

	property := alarmProperty(key.Severity, key.Direction)
	emitEventLog(ctx, m.facade, m.logger, property, SeverityError, map[string]string{
		"SENSOR_NAME":  key.SensorPath,
		"SENSOR_VALUE": valueStr,
	})

	configured := m.delayFor(key)
	delay := configured

	now := uint64(time.Now().UnixMilli())
	if prev, ok := m.store.Get(key); ok {
		if now > prev {
			elapsed := time.Duration(now-prev) * time.Millisecond
			remaining := configured - elapsed
			if remaining < 0 {
				remaining = 0
			}
			delay = remaining
		} else {
			m.logger.Warn("shutdown: persisted start time is not in the past, using configured delay", slog.String("SENSOR_NAME", key.SensorPath))
		}
	}

	timer := time.AfterFunc(delay, func() { m.triggerProtection(context.Background(), key) })

	fsm := newAlarmFSM()
	if err := fsm.fire(ctx, alarmTriggerStartCountdown); err != nil {
		m.logger.Warn("shutdown: alarm state transition failed", slog.Any("error", err))
	}

	m.mu.Lock()
	m.timers[key] = timer
	m.alarms[key] = fsm
	m.mu.Unlock()

	if err := m.store.Set(key, now); err != nil {
		m.logger.Warn("shutdown: persist alarm start time failed", slog.Any("error", err))
	}
}

func (m *Monitor) stopTimer(ctx context.Context, key persist.Key) {
	property := alarmProperty(key.Severity, key.Direction)
	emitEventLog(ctx, m.facade, m.logger, property+"Clear", SeverityInformational, map[string]string{
		"SENSOR_NAME": key.SensorPath,
	})

	m.mu.Lock()
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
	fsm := m.alarms[key]
	delete(m.alarms, key)
	m.mu.Unlock()

	if fsm != nil {
		if err := fsm.fire(ctx, alarmTriggerClear); err != nil {
			m.logger.Warn("shutdown: alarm state transition failed", slog.Any("error", err))
		}
	}

	if err := m.store.Delete(key); err != nil {
		m.logger.Warn("shutdown: delete persisted alarm start time failed", slog.Any("error", err))
	}
}

func (m *Monitor) triggerProtection(ctx context.Context, key persist.Key) {
	var dumpReply struct{}
	if err := m.facade.CallMethod(ctx, "", "/xyz/openbmc_project/dump/bmc", "xyz.openbmc_project.Dump.Manager", "Create", []any{}, &dumpReply); err != nil {
		m.logger.Warn("shutdown: bmc dump request failed", slog.Any("error", err))
	}

	var unitReply struct{}
	if err := m.facade.CallMethod(ctx, "", "/org/freedesktop/systemd1", "org.freedesktop.systemd1.Manager", "StartUnit",
		[]any{protectionTarget, "replace"}, &unitReply); err != nil {
		m.logger.Error("shutdown: protective poweroff unit start failed", slog.Any("error", err))
	}

	property := alarmProperty(key.Severity, key.Direction)
	emitEventLog(ctx, m.facade, m.logger, property, SeverityCritical, map[string]string{
		"SENSOR_NAME":     key.SensorPath,
		"SEVERITY_DETAIL": "SYSTEM_TERM",
	})

	m.mu.Lock()
	delete(m.timers, key)
	fsm := m.alarms[key]
	delete(m.alarms, key)
	m.mu.Unlock()

	if fsm != nil {
		if err := fsm.fire(ctx, alarmTriggerExpire); err != nil {
			m.logger.Warn("shutdown: alarm state transition failed", slog.Any("error", err))
		}
	}

	if err := m.store.Delete(key); err != nil {
		m.logger.Warn("shutdown: delete persisted alarm start time failed", slog.Any("error", err))
	}

	_ = m.facade.Publish(ipc.InternalSystemProtectionTriggered, bus.Signal{Path: key.SensorPath, Interface: property})
}

func (m *Monitor) powerStateChanged(ctx context.Context, on bool) {
	if on {
		keys, err := m.findAlarms(ctx)
		if err != nil {
			return
		}
		m.checkAlarms(ctx, keys)
		return
	}

	m.mu.Lock()
	keys := make([]persist.Key, 0, len(m.timers))
	for k, t := range m.timers {
		t.Stop()
		keys = append(keys, k)
	}
	m.timers = make(map[persist.Key]*time.Timer)
	m.alarms = make(map[persist.Key]*alarmFSM)
	m.mu.Unlock()

	for _, k := range keys {
		_ = m.store.Delete(k)
	}
}
