// SPDX-License-Identifier: BSD-3-Clause

package shutdown

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/persist"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/powerstate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	facade := bus.New(nil, discardLogger())
	tracker := powerstate.NewPGood(facade, "/xyz/openbmc_project/state/chassis0", discardLogger())
	store, err := persist.Open(filepath.Join(t.TempDir(), "shutdownAlarmStartTimes"))
	if err != nil {
		t.Fatalf("persist.Open: %v", err)
	}
	return NewMonitor(facade, tracker, store, 500*time.Millisecond, 250*time.Millisecond, discardLogger())
}

func testKey() persist.Key {
	return persist.Key{SensorPath: "/xyz/openbmc_project/sensors/temperature/cpu0", Severity: persist.SeverityHardShutdown, Direction: persist.DirectionHigh}
}

func TestCheckAlarmArmsAtMostOneTimerPerKey(t *testing.T) {
	m := newTestMonitor(t)
	key := testKey()
	ctx := context.Background()

	m.checkAlarm(ctx, true, key)
	first := m.timers[key]
	if first == nil {
		t.Fatalf("expected a timer to be armed")
	}

	m.checkAlarm(ctx, true, key)
	if m.timers[key] != first {
		t.Fatalf("re-asserting the same alarm replaced the running timer")
	}

	if len(m.timers) != 1 {
		t.Fatalf("expected exactly one timer, got %d", len(m.timers))
	}
}

func TestStopTimerClearsPersistedEntry(t *testing.T) {
	m := newTestMonitor(t)
	key := testKey()
	ctx := context.Background()

	m.checkAlarm(ctx, true, key)
	if _, ok := m.store.Get(key); !ok {
		t.Fatalf("expected start time to be persisted after startTimer")
	}

	m.checkAlarm(ctx, false, key)
	if _, ok := m.store.Get(key); ok {
		t.Fatalf("expected persisted start time to be removed after stopTimer")
	}
	if _, ok := m.timers[key]; ok {
		t.Fatalf("expected timer to be removed after stopTimer")
	}
}

func TestStartTimerResumesRemainingDelay(t *testing.T) {
	m := newTestMonitor(t)
	key := testKey()

	elapsed := 300 * time.Millisecond
	started := uint64(time.Now().Add(-elapsed).UnixMilli())
	if err := m.store.Set(key, started); err != nil {
		t.Fatalf("seed persisted entry: %v", err)
	}

	m.mu.Lock()
	m.timers[key] = time.AfterFunc(time.Hour, func() {})
	m.mu.Unlock()
	m.timers[key].Stop()
	delete(m.timers, key)

	m.startTimer(context.Background(), key)

	m.mu.Lock()
	timer := m.timers[key]
	m.mu.Unlock()
	if timer == nil {
		t.Fatalf("expected a timer to be armed")
	}

	// configured hard delay is 500ms; 300ms already elapsed, so firing
	// should happen well before the full configured delay would.
	time.Sleep(400 * time.Millisecond)

	m.mu.Lock()
	_, stillRunning := m.timers[key]
	m.mu.Unlock()
	if stillRunning {
		t.Fatalf("expected the resumed timer to have fired within the shortened remaining delay")
	}
}

func TestAlarmStateTracksAssertAndClear(t *testing.T) {
	m := newTestMonitor(t)
	key := testKey()
	ctx := context.Background()

	if got := m.AlarmState(ctx, key); got != "" {
		t.Fatalf("expected no alarm state before assertion, got %q", got)
	}

	m.checkAlarm(ctx, true, key)
	if got := m.AlarmState(ctx, key); got != alarmStateCountingDown {
		t.Fatalf("alarm state after assertion = %q, want %q", got, alarmStateCountingDown)
	}

	m.checkAlarm(ctx, false, key)
	if got := m.AlarmState(ctx, key); got != "" {
		t.Fatalf("expected alarm state to be forgotten after clear, got %q", got)
	}
}
