// SPDX-License-Identifier: BSD-3-Clause

package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/powerstate"
)

// ErrorReporter arms, per registered fan, a one-shot timer whenever that fan
// is absent while the chassis is powered on. If the fan is still absent when
// the timer fires, exactly one structured event is logged; power-off
// disarms the timer without logging and without resetting the "already
// logged" latch, so a fan that stays missing across a power cycle is not
// re-logged until its presence actually changes.
type ErrorReporter struct {
	tracker *powerstate.Tracker
	logger  *slog.Logger

	mu     sync.Mutex
	timers map[string]*fanTimer
}

type fanTimer struct {
	budget  time.Duration
	timer   *time.Timer
	armed   bool
	latched bool
}

// NewErrorReporter constructs an ErrorReporter gated on tracker's power state.
func NewErrorReporter(tracker *powerstate.Tracker, logger *slog.Logger) *ErrorReporter {
	return &ErrorReporter{tracker: tracker, logger: logger, timers: make(map[string]*fanTimer)}
}

// Register enrolls fanPath with a missing-time budget. A non-positive
// budget means the fan has no configured missing-time report, and CheckFan
// calls for it are no-ops.
func (r *ErrorReporter) Register(fanPath string, budget time.Duration) {
	if budget <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[fanPath] = &fanTimer{budget: budget}
}

// CheckFan is called on every presence evaluation for fanPath. transitioned
// indicates the presence state actually changed since the previous call,
// which resets the latch so a fan that comes back and goes missing again
// gets a fresh report.
func (r *ErrorReporter) CheckFan(fanPath string, present bool, transitioned bool) {
	r.mu.Lock()
	ft, ok := r.timers[fanPath]
	if !ok {
		r.mu.Unlock()
		return
	}
	if transitioned {
		ft.latched = false
	}

	shouldArm := !present && r.tracker.IsPowerOn() && !ft.latched
	switch {
	case shouldArm && !ft.armed:
		ft.armed = true
		ft.timer = time.AfterFunc(ft.budget, func() { r.fire(fanPath) })
	case !shouldArm && ft.armed:
		ft.timer.Stop()
		ft.armed = false
	}
	r.mu.Unlock()
}

func (r *ErrorReporter) fire(fanPath string) {
	r.mu.Lock()
	ft, ok := r.timers[fanPath]
	if !ok {
		r.mu.Unlock()
		return
	}
	ft.armed = false
	alreadyLatched := ft.latched
	ft.latched = true
	budget := ft.budget
	r.mu.Unlock()

	if alreadyLatched {
		return
	}
	r.logger.Error("fan missing beyond configured time budget",
		slog.String("FAN_PATH", fanPath), slog.Duration("TIME_IN_SECONDS", budget))
}

// Unregister stops and discards fanPath's timer.
func (r *ErrorReporter) Unregister(fanPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ft, ok := r.timers[fanPath]; ok && ft.armed {
		ft.timer.Stop()
	}
	delete(r.timers, fanPath)
}
