// SPDX-License-Identifier: BSD-3-Clause

//go:build linux
// +build linux

package gpio

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Event describes a single edge transition observed on a monitored line.
type Event struct {
	Offset    int
	Value     int
	Edge      Edge
	Timestamp time.Time
}

// Line wraps a requested GPIO line together with the configuration it was
// requested with and, when edge detection is enabled, a channel of observed
// transitions. It is the handle used by LineMonitor and LineState; the
// package-level RequestLine/RequestLineByNumber functions return the raw
// third-party line instead and are meant for one-shot get/set/toggle use.
type Line struct {
	raw    *gpiocdev.Line
	config LineConfig
	events chan Event
}

// RequestLineMonitored requests a named GPIO line configured for use with
// LineMonitor and LineState.
func RequestLineMonitored(chip, lineName string, opts ...Option) (*Line, error) {
	if chip == "" {
		return nil, fmt.Errorf("%w: chip path cannot be empty", ErrOperationFailed)
	}
	if lineName == "" {
		return nil, fmt.Errorf("%w: line name cannot be empty", ErrOperationFailed)
	}

	if err := gpiocdev.IsChip(chip); err != nil {
		return nil, mapGpiocdevError(err, fmt.Sprintf("invalid chip path '%s'", chip))
	}

	foundChip, offset, err := gpiocdev.FindLine(lineName)
	if err != nil {
		return nil, mapGpiocdevError(err, fmt.Sprintf("failed to find line '%s'", lineName))
	}
	if filepath.Base(foundChip) != filepath.Base(chip) {
		return nil, fmt.Errorf("%w: line '%s' not found on chip '%s'", ErrLineNotFound, lineName, chip)
	}

	return requestLineMonitored(chip, offset, opts)
}

// RequestLineByNumberMonitored requests a GPIO line by offset configured for
// use with LineMonitor and LineState.
func RequestLineByNumberMonitored(chip string, lineNumber int, opts ...Option) (*Line, error) {
	if chip == "" {
		return nil, fmt.Errorf("%w: chip path cannot be empty", ErrOperationFailed)
	}
	if lineNumber < 0 {
		return nil, fmt.Errorf("%w: line number cannot be negative", ErrInvalidValue)
	}

	return requestLineMonitored(chip, lineNumber, opts)
}

func requestLineMonitored(chip string, offset int, opts []Option) (*Line, error) {
	cfg := NewConfig(opts...)
	lc := cfg.DefaultConfig

	bufSize := lc.EventBufferSize
	if bufSize <= 0 {
		bufSize = 16
	}

	l := &Line{
		config: lc,
		events: make(chan Event, bufSize),
	}

	gpiocdevOpts := lineConfigToGpiocdevOptions(lc)
	if lc.Direction == DirectionInput && lc.Edge != EdgeNone {
		gpiocdevOpts = append(gpiocdevOpts, gpiocdev.WithEventHandler(l.handleEvent))
	}

	raw, err := gpiocdev.RequestLine(chip, offset, gpiocdevOpts...)
	if err != nil {
		return nil, mapGpiocdevError(err, fmt.Sprintf("failed to request line %d from chip '%s'", offset, chip))
	}
	l.raw = raw

	return l, nil
}

func (l *Line) handleEvent(evt gpiocdev.LineEvent) {
	e := Event{Offset: evt.Offset, Timestamp: time.Now()}

	switch evt.Type {
	case gpiocdev.LineEventFallingEdge:
		e.Edge = EdgeFalling
		e.Value = 0
	default:
		e.Edge = EdgeRising
		e.Value = 1
	}

	select {
	case l.events <- e:
	default:
		// Drop the event rather than block the gpiocdev callback goroutine.
	}
}

// Events returns the channel of edge transitions observed on this line. The
// channel exists for every monitored line; events arrive on it only when the
// line was requested as an input with edge detection enabled.
func (l *Line) Events() <-chan Event {
	return l.events
}

// GetValue reads the current value of the line.
func (l *Line) GetValue() (int, error) {
	value, err := l.raw.Value()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read GPIO value: %w", ErrOperationFailed, err)
	}
	return value, nil
}

// SetValue sets the line to the given value. Only meaningful for output lines.
func (l *Line) SetValue(value int) error {
	if err := l.raw.SetValue(value); err != nil {
		return fmt.Errorf("%w: failed to set GPIO value: %w", ErrOperationFailed, err)
	}
	return nil
}

// Close releases the underlying line and its event channel.
func (l *Line) Close() error {
	err := l.raw.Close()
	close(l.events)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOperationFailed, err)
	}
	return nil
}

// AsInput returns an Option that configures a line as an input.
func AsInput() Option {
	return &directionOption{direction: DirectionInput}
}

// AsOutput returns an Option that configures a line as an output, leaving
// its initial value unset.
func AsOutput() Option {
	return &directionOption{direction: DirectionOutput}
}

// AsOutputValue returns an Option that configures a line as an output with
// the given initial value.
func AsOutputValue(value int) Option {
	return &outputValueOption{value: value}
}

type outputValueOption struct {
	value int
}

func (o *outputValueOption) apply(c *Config) {
	c.DefaultConfig.Direction = DirectionOutput
	c.DefaultConfig.InitialValue = o.value
}

// convertOptions applies opts over the package defaults and translates the
// resulting line configuration into gpiocdev request options.
func convertOptions(opts []Option) []gpiocdev.LineReqOption {
	cfg := NewConfig(opts...)
	return lineConfigToGpiocdevOptions(cfg.DefaultConfig)
}

// lineConfigToGpiocdevOptions translates our LineConfig model into the
// option set gpiocdev.RequestLine expects.
func lineConfigToGpiocdevOptions(lc LineConfig) []gpiocdev.LineReqOption {
	var opts []gpiocdev.LineReqOption

	if lc.Consumer != "" {
		opts = append(opts, gpiocdev.WithConsumer(lc.Consumer))
	}

	if lc.Direction == DirectionOutput {
		opts = append(opts, gpiocdev.AsOutput(lc.InitialValue))
	} else {
		opts = append(opts, gpiocdev.AsInput)
	}

	switch lc.Bias {
	case BiasPullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case BiasPullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	case BiasDisabled:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	}

	switch lc.Edge {
	case EdgeRising:
		opts = append(opts, gpiocdev.WithRisingEdge)
	case EdgeFalling:
		opts = append(opts, gpiocdev.WithFallingEdge)
	case EdgeBoth:
		opts = append(opts, gpiocdev.WithBothEdges)
	}

	switch lc.Drive {
	case DriveOpenDrain:
		opts = append(opts, gpiocdev.AsOpenDrain)
	case DriveOpenSource:
		opts = append(opts, gpiocdev.AsOpenSource)
	case DrivePushPull:
		opts = append(opts, gpiocdev.AsPushPull)
	}

	if lc.ActiveState == ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	if lc.DebouncePeriod > 0 {
		opts = append(opts, gpiocdev.WithDebounce(lc.DebouncePeriod))
	}

	return opts
}
