// SPDX-License-Identifier: BSD-3-Clause

package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
)

func newTestRecoveryMonitor(countdown time.Duration) *RecoveryMonitor {
	facade := bus.New(nil, discardLogger())
	cfg := RecoveryConfig{
		Target: "obmc-host-recover@0.target",
		Sensors: []RecoverySensor{
			{Path: "/xyz/openbmc_project/sensors/temperature/cpu0", Thresholds: []RecoveryThreshold{
				{Alarm: "CriticalAlarmHigh", StableCountdown: countdown},
			}},
		},
	}
	return NewRecoveryMonitor(facade, cfg, discardLogger())
}

func TestRecoveryCancelsOnRetrip(t *testing.T) {
	r := newTestRecoveryMonitor(50 * time.Millisecond)
	key := recoveryKey{path: "/xyz/openbmc_project/sensors/temperature/cpu0", alarm: "CriticalAlarmHigh"}

	r.setTripped(key, false, 50*time.Millisecond)
	if _, armed := r.timers[key]; !armed {
		t.Fatalf("expected countdown to arm when alarm clears")
	}

	r.setTripped(key, true, 50*time.Millisecond)
	if _, armed := r.timers[key]; armed {
		t.Fatalf("expected countdown to cancel when alarm re-trips")
	}
}

func TestRecoveryFiresAfterStableCountdown(t *testing.T) {
	r := newTestRecoveryMonitor(30 * time.Millisecond)
	key := recoveryKey{path: "/xyz/openbmc_project/sensors/temperature/cpu0", alarm: "CriticalAlarmHigh"}

	r.setTripped(key, false, 30*time.Millisecond)

	time.Sleep(120 * time.Millisecond)

	r.mu.Lock()
	fired := r.fired
	r.mu.Unlock()
	if !fired {
		t.Fatalf("expected recovery to fire once the countdown elapsed without a re-trip")
	}
}

func TestRecoveryDoesNotFireWhileAnyAlarmStillTripped(t *testing.T) {
	facade := bus.New(nil, discardLogger())
	cfg := RecoveryConfig{
		Target: "obmc-host-recover@0.target",
		Sensors: []RecoverySensor{
			{Path: "/a", Thresholds: []RecoveryThreshold{{Alarm: "CriticalAlarmHigh", StableCountdown: 20 * time.Millisecond}}},
			{Path: "/b", Thresholds: []RecoveryThreshold{{Alarm: "CriticalAlarmHigh", StableCountdown: time.Hour}}},
		},
	}
	r := NewRecoveryMonitor(facade, cfg, discardLogger())

	r.setTripped(recoveryKey{path: "/a", alarm: "CriticalAlarmHigh"}, false, 20*time.Millisecond)
	r.setTripped(recoveryKey{path: "/b", alarm: "CriticalAlarmHigh"}, true, time.Hour)

	time.Sleep(80 * time.Millisecond)

	r.checkRecovery(context.Background())

	r.mu.Lock()
	fired := r.fired
	r.mu.Unlock()
	if fired {
		t.Fatalf("expected recovery not to fire while sensor /b is still tripped")
	}
}
