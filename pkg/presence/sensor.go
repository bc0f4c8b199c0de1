// SPDX-License-Identifier: BSD-3-Clause

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/gpio"
)

// Sensor is a PresenceSensor: one way of observing whether a single fan is
// physically present. Tach, GPIO and Null are the only variants; a
// RedundancyPolicy combines one or more Sensors for a Fan.
type Sensor interface {
	// Start begins observation and returns the initial presence state.
	Start(ctx context.Context) (bool, error)
	// Stop ends observation, releasing any bus subscription or device handle.
	Stop()
	// Fail marks the sensor as having disagreed with its redundancy peers and
	// logs a callout identifying the disagreeing sensor.
	Fail(ctx context.Context)
	// Present performs a synchronous, unbuffered re-read of the sensor,
	// independent of whatever the last Start/onChange value was.
	Present(ctx context.Context) (bool, error)
}

const ifaceSensorValue = "xyz.openbmc_project.Sensor.Value"

// TachSensor reports presence from a tach feedback reading: present iff the
// cached value is non-zero.
type TachSensor struct {
	facade   *bus.Facade
	path     string
	fanName  string
	logger   *slog.Logger
	onChange func(bool)

	mu     sync.Mutex
	cached float64
	sub    *bus.Subscription
}

// NewTachSensor constructs a TachSensor reading the Value property at path.
// onChange, if non-nil, is invoked on every observed present/absent
// transition after Start.
func NewTachSensor(facade *bus.Facade, path, fanName string, logger *slog.Logger, onChange func(bool)) *TachSensor {
	return &TachSensor{facade: facade, path: path, fanName: fanName, logger: logger, onChange: onChange}
}

func (t *TachSensor) Start(ctx context.Context) (bool, error) {
	var v float64
	if err := t.facade.GetProperty(ctx, t.path, ifaceSensorValue, "Value", &v); err != nil {
		t.logger.Warn("presence: tach initial read failed, assuming absent",
			slog.String("path", t.path), slog.Any("error", err))
		v = 0
	}
	t.mu.Lock()
	t.cached = v
	t.mu.Unlock()

	sub, err := t.facade.Subscribe("internal.property.changed", nil, t.handleChanged)
	if err != nil {
		return v != 0, fmt.Errorf("%w: %w", ErrSensorConstructionFailed, err)
	}
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()

	return v != 0, nil
}

func (t *TachSensor) Stop() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

func (t *TachSensor) Fail(ctx context.Context) {
	t.logger.Error("presence: tach sensor disagrees with redundancy peers",
		slog.String("FAN", t.fanName), slog.String("SENSOR_PATH", t.path))
}

func (t *TachSensor) Present(ctx context.Context) (bool, error) {
	var v float64
	if err := t.facade.GetProperty(ctx, t.path, ifaceSensorValue, "Value", &v); err != nil {
		return false, fmt.Errorf("%w: %w", ErrSensorRead, err)
	}
	return v != 0, nil
}

func (t *TachSensor) handleChanged(ctx context.Context, sig bus.Signal, _ any) {
	if sig.Path != t.path || sig.Interface != ifaceSensorValue || sig.Property != "Value" {
		return
	}
	var v float64
	if err := json.Unmarshal(sig.Value, &v); err != nil {
		return
	}

	t.mu.Lock()
	old := t.cached != 0
	t.cached = v
	t.mu.Unlock()
	newState := v != 0

	if newState != old && t.onChange != nil {
		t.onChange(newState)
	}
}

// GPIOSensor reports presence from a GPIO line level: present iff the line
// reads assertedLevel.
type GPIOSensor struct {
	chip          string
	lineName      string
	assertedLevel int
	fanName       string
	logger        *slog.Logger
	onChange      func(bool)

	mu      sync.Mutex
	line    *gpio.Line
	cancel  chan struct{}
	running bool
}

// NewGPIOSensor constructs a GPIOSensor. The underlying device is not opened
// until Start; construction never fails.
func NewGPIOSensor(chip, lineName string, assertedLevel int, fanName string, logger *slog.Logger, onChange func(bool)) *GPIOSensor {
	return &GPIOSensor{chip: chip, lineName: lineName, assertedLevel: assertedLevel, fanName: fanName, logger: logger, onChange: onChange}
}

// NewGPIOSensorOrNull attempts to open the underlying line immediately. If
// that fails, it logs the failure and returns a NullSensor instead, so a
// broken GPIO controller degrades a fan's redundancy set rather than
// crashing the process.
func NewGPIOSensorOrNull(chip, lineName string, assertedLevel int, fanName string, logger *slog.Logger, onChange func(bool)) Sensor {
	s := NewGPIOSensor(chip, lineName, assertedLevel, fanName, logger, onChange)
	line, err := gpio.RequestLineMonitored(chip, lineName,
		gpio.WithDirection(gpio.DirectionInput),
		gpio.WithEdge(gpio.EdgeBoth),
		gpio.WithConsumer(fmt.Sprintf("presence-%s", fanName)))
	if err != nil {
		logger.Error("presence: gpio sensor construction failed, degrading to null sensor",
			slog.String("FAN", fanName), slog.String("CHIP", chip), slog.String("LINE", lineName), slog.Any("error", err))
		return NewNullSensor(fanName, "gpio construction failed: "+err.Error(), logger)
	}
	s.line = line
	return s
}

func (g *GPIOSensor) Start(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.line == nil {
		line, err := gpio.RequestLineMonitored(g.chip, g.lineName,
			gpio.WithDirection(gpio.DirectionInput),
			gpio.WithEdge(gpio.EdgeBoth),
			gpio.WithConsumer(fmt.Sprintf("presence-%s", g.fanName)))
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrSensorConstructionFailed, err)
		}
		g.line = line
	}

	value, err := g.line.GetValue()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrSensorConstructionFailed, err)
	}

	if !g.running {
		g.cancel = make(chan struct{})
		g.running = true
		go g.watch(g.line, g.cancel)
	}

	return value == g.assertedLevel, nil
}

func (g *GPIOSensor) watch(line *gpio.Line, cancel chan struct{}) {
	for {
		select {
		case evt, ok := <-line.Events():
			if !ok {
				return
			}
			if g.onChange != nil {
				g.onChange(evt.Value == g.assertedLevel)
			}
		case <-cancel:
			return
		}
	}
}

func (g *GPIOSensor) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		close(g.cancel)
		g.running = false
	}
	if g.line != nil {
		_ = g.line.Close()
		g.line = nil
	}
}

func (g *GPIOSensor) Fail(ctx context.Context) {
	g.logger.Error("presence: gpio sensor disagrees with redundancy peers",
		slog.String("FAN", g.fanName), slog.String("CHIP", g.chip), slog.String("LINE", g.lineName))
}

func (g *GPIOSensor) Present(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.line == nil {
		return false, fmt.Errorf("%w: line not open", ErrSensorRead)
	}
	value, err := g.line.GetValue()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrSensorRead, err)
	}
	return value == g.assertedLevel, nil
}

// NullSensor is the degrade-on-failure fallback: it always reports absent
// and never fails, since there is no hardware left to disagree with peers.
type NullSensor struct {
	fanName string
	reason  string
	logger  *slog.Logger
}

// NewNullSensor constructs a NullSensor, logging reason once at construction.
func NewNullSensor(fanName, reason string, logger *slog.Logger) *NullSensor {
	logger.Warn("presence: null sensor in use, reporting absent",
		slog.String("FAN", fanName), slog.String("reason", reason))
	return &NullSensor{fanName: fanName, reason: reason, logger: logger}
}

func (n *NullSensor) Start(ctx context.Context) (bool, error) { return false, nil }
func (n *NullSensor) Stop()                                   {}
func (n *NullSensor) Fail(ctx context.Context)                {}
func (n *NullSensor) Present(ctx context.Context) (bool, error) {
	return false, nil
}
