// SPDX-License-Identifier: BSD-3-Clause

package presence

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/powerstate"
)

// fakeSensor is a test double implementing Sensor with a mutable present
// value and a fail counter.
type fakeSensor struct {
	mu      sync.Mutex
	present bool
	fails   int
}

func (f *fakeSensor) Start(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present, nil
}
func (f *fakeSensor) Stop() {}
func (f *fakeSensor) Fail(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails++
}
func (f *fakeSensor) Present(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present, nil
}
func (f *fakeSensor) failCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fails
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackFallsThroughOnDisagreement(t *testing.T) {
	tach := &fakeSensor{present: false}
	gpio := &fakeSensor{present: true}

	var published []bool
	publish := func(present bool) { published = append(published, present) }

	fb := NewFallback("fan0", []Sensor{tach, gpio}, nil, publish, discardLogger())
	if err := fb.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor: %v", err)
	}

	if !fb.Present() {
		t.Fatalf("expected Present() true (gpio fallback), got false")
	}
	if tach.failCount() != 1 {
		t.Fatalf("expected tach.Fail() called exactly once, got %d", tach.failCount())
	}
	if len(published) != 1 || !published[0] {
		t.Fatalf("expected single publish(true), got %v", published)
	}

	// Re-evaluating with no state change should not re-fail or flap.
	fb.StateChanged(context.Background(), 1, true)
	if tach.failCount() != 1 {
		t.Fatalf("expected no additional Fail() calls on no-op re-evaluation, got %d", tach.failCount())
	}
	if len(published) != 1 {
		t.Fatalf("expected no additional publish on no-op re-evaluation, got %v", published)
	}
}

func TestAnyOfClearsConflictOnFalseToTrueTransition(t *testing.T) {
	s0 := &fakeSensor{present: true}
	s1 := &fakeSensor{present: false}

	var published []bool
	publish := func(present bool) { published = append(published, present) }

	tracker := powerstate.NewPGood(nil, "/chassis", discardLogger())
	// The tracker is never started, so IsPowerOn() is false and
	// checkConflicts never reports. The test seeds a conflict bit by hand
	// and checks that the combined false->true transition clears it, along
	// with the publish sequence.

	ao := NewAnyOf("fan0", []Sensor{s0, s1}, nil, tracker, publish, discardLogger())
	if err := ao.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if !ao.Present() {
		t.Fatalf("expected Present() true")
	}

	// s0 drops to absent, s1 still absent: combined state goes true->false.
	ao.StateChanged(context.Background(), 0, false)
	if ao.Present() {
		t.Fatalf("expected Present() false after both sensors absent")
	}

	ao.mu.Lock()
	ao.states[0].conflict = true
	ao.mu.Unlock()

	// s1 comes back: combined state goes false->true.
	ao.StateChanged(context.Background(), 1, true)
	if !ao.Present() {
		t.Fatalf("expected Present() true after s1 returns")
	}
	ao.mu.Lock()
	conflict := ao.states[0].conflict
	ao.mu.Unlock()
	if conflict {
		t.Fatalf("expected conflict bit cleared on false->true transition")
	}

	if len(published) < 3 {
		t.Fatalf("expected at least 3 publishes (initial, false, true), got %v", published)
	}
	if published[0] != true || published[len(published)-2] != false || published[len(published)-1] != true {
		t.Fatalf("unexpected publish sequence: %v", published)
	}
}

func TestErrorReporterUnregisteredFanIsNoop(t *testing.T) {
	tracker := powerstate.NewPGood(nil, "/chassis", discardLogger())
	r := NewErrorReporter(tracker, discardLogger())

	// No Register call for this path: CheckFan must be a no-op, not panic.
	r.CheckFan("/fan0", false, true)

	r.Register("/fan0", 10*time.Millisecond)
	// Tracker was never Start-ed so IsPowerOn() is false: the timer must
	// not arm while the chassis is considered off, regardless of absence.
	r.CheckFan("/fan0", false, true)
	time.Sleep(30 * time.Millisecond)

	r.Unregister("/fan0")
	r.CheckFan("/fan0", false, true)
}
