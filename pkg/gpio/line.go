// SPDX-License-Identifier: BSD-3-Clause

//go:build linux
// +build linux

package gpio

import (
	"fmt"
	"sync"
	"time"
)

// LineMonitor provides monitoring capabilities for GPIO lines.
type LineMonitor struct {
	line     *Line
	callback func(Event)
	stop     chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewLineMonitor creates a new line monitor for the given line.
func NewLineMonitor(line *Line, callback func(Event)) *LineMonitor {
	return &LineMonitor{
		line:     line,
		callback: callback,
		stop:     make(chan struct{}),
	}
}

// Start starts monitoring the line for events.
func (lm *LineMonitor) Start() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.running {
		return fmt.Errorf("monitor already running")
	}

	// Allow restart after Stop.
	if lm.stop == nil {
		lm.stop = make(chan struct{})
	} else {
		select {
		case <-lm.stop:
			lm.stop = make(chan struct{})
		default:
		}
	}

	if lm.line.config.Direction != DirectionInput || lm.line.config.Edge == EdgeNone {
		return fmt.Errorf("%w: line must be configured for input with edge detection", ErrInvalidConfiguration)
	}

	lm.running = true
	go lm.monitorLoop()
	return nil
}

// Stop stops monitoring the line.
func (lm *LineMonitor) Stop() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.running {
		return
	}

	close(lm.stop)
	lm.running = false
}

// IsRunning returns whether the monitor is currently running.
func (lm *LineMonitor) IsRunning() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.running
}

// monitorLoop is the main monitoring loop.
func (lm *LineMonitor) monitorLoop() {
	defer func() {
		lm.mu.Lock()
		lm.running = false
		lm.mu.Unlock()
	}()

	events := lm.line.Events()
	if events == nil {
		return
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return // Channel closed
			}
			if lm.callback != nil {
				lm.callback(event)
			}
		case <-lm.stop:
			return
		}
	}
}

// LineState tracks the state of a GPIO line over time: its current value,
// when it last changed and how many changes it has seen.
type LineState struct {
	line         *Line
	currentValue int
	lastChanged  time.Time
	changeCount  uint64
	mu           sync.RWMutex
}

// NewLineState creates a new line state tracker.
func NewLineState(line *Line) (*LineState, error) {
	value, err := line.GetValue()
	if err != nil {
		return nil, err
	}

	return &LineState{
		line:         line,
		currentValue: value,
		lastChanged:  time.Now(),
	}, nil
}

// Update reads the current line value and updates the state.
func (ls *LineState) Update() error {
	value, err := ls.line.GetValue()
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if value != ls.currentValue {
		ls.currentValue = value
		ls.lastChanged = time.Now()
		ls.changeCount++
	}

	return nil
}

// GetState returns the current state information: current value, time of last change, and total change count.
func (ls *LineState) GetState() (int, time.Time, uint64) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.currentValue, ls.lastChanged, ls.changeCount
}

// TimeSinceLastChange returns the duration since the last state change.
func (ls *LineState) TimeSinceLastChange() time.Duration {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return time.Since(ls.lastChanged)
}
