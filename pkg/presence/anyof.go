// SPDX-License-Identifier: BSD-3-Clause

package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/powerstate"
)

// powerOnDelayTime is how long AnyOf waits after a power-on transition
// before it starts treating sensor disagreement as a fault, giving fans
// time to spin up and tach readings time to settle.
const powerOnDelayTime = 5 * time.Second

// AnyOf is a RedundancyPolicy: the fan is present if any underlying sensor
// reports present. A disagreeing sensor (absent while at least one peer is
// present) is reported via Fail once, when its conflict bit is set; the bit
// is cleared the next time the combined state goes false->true and on every
// power-on, so a fan that is removed and reinserted gets a fresh chance to
// disagree.
type AnyOf struct {
	fanName string
	eeprom  *EEPROMDevice
	tracker *powerstate.Tracker
	publish func(bool)
	logger  *slog.Logger

	mu         sync.Mutex
	states     []sensorState
	powerOn    bool // settle-gated: true only once powerOnDelayTime has elapsed
	delayTimer *time.Timer
}

// NewAnyOf constructs an AnyOf policy over sensors. publish is called with
// the combined present/absent state whenever it changes.
func NewAnyOf(fanName string, sensors []Sensor, eeprom *EEPROMDevice, tracker *powerstate.Tracker, publish func(bool), logger *slog.Logger) *AnyOf {
	a := &AnyOf{fanName: fanName, eeprom: eeprom, tracker: tracker, publish: publish, logger: logger}
	for _, s := range sensors {
		a.states = append(a.states, sensorState{sensor: s})
	}
	tracker.AddCallback("anyof-"+fanName, a.powerStateChanged)
	if tracker.IsPowerOn() {
		a.armDelayTimer()
	}
	return a
}

func (a *AnyOf) armDelayTimer() {
	a.delayTimer = time.AfterFunc(powerOnDelayTime, a.delayedAfterPowerOn)
}

func (a *AnyOf) delayedAfterPowerOn() {
	a.mu.Lock()
	a.powerOn = true
	a.mu.Unlock()
	a.checkConflicts(context.Background())
}

// powerStateChanged re-arms the settle timer on power-on, clearing every
// conflict bit so sensors get a fresh chance to disagree after this boot.
// On power-off it disarms the timer and drops back to the un-settled state.
func (a *AnyOf) powerStateChanged(ctx context.Context, on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.delayTimer != nil {
		a.delayTimer.Stop()
	}
	if on {
		for i := range a.states {
			a.states[i].conflict = false
		}
		a.delayTimer = time.AfterFunc(powerOnDelayTime, a.delayedAfterPowerOn)
	} else {
		a.powerOn = false
	}
}

func (a *AnyOf) Monitor(ctx context.Context) error {
	any := false
	for i := range a.states {
		present, err := a.states[i].sensor.Start(ctx)
		if err != nil {
			a.logger.Warn("presence: sensor start failed, treating as absent",
				slog.String("FAN", a.fanName), slog.Any("error", err))
			present = false
		}
		a.states[i].present = present
		if present {
			any = true
		}
	}
	a.publish(any)
	if any {
		a.checkConflicts(ctx)
	}
	return nil
}

func (a *AnyOf) Stop() {
	a.mu.Lock()
	if a.delayTimer != nil {
		a.delayTimer.Stop()
	}
	a.tracker.RemoveCallback("anyof-" + a.fanName)
	a.mu.Unlock()
	for i := range a.states {
		a.states[i].sensor.Stop()
	}
}

func (a *AnyOf) Present() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.anyPresentLocked()
}

// StateChanged is the sensor onChange callback: sensor index idx has
// changed to the given presence state.
func (a *AnyOf) StateChanged(ctx context.Context, idx int, present bool) {
	a.mu.Lock()
	origState := a.anyPresentLocked()
	a.states[idx].present = present
	newState := a.anyPresentLocked()
	changed := newState != origState
	a.mu.Unlock()

	if changed {
		a.publish(newState)
		if a.eeprom != nil {
			if newState {
				a.eeprom.BindAfterDelay()
			} else {
				a.eeprom.UnbindAfterDelay()
			}
		}
	}

	if newState && !origState {
		a.mu.Lock()
		for i := range a.states {
			a.states[i].conflict = false
		}
		a.mu.Unlock()
		a.checkConflicts(ctx)
	}
}

func (a *AnyOf) anyPresentLocked() bool {
	for _, s := range a.states {
		if s.present {
			return true
		}
	}
	return false
}

// checkConflicts reports, exactly once per conflict-bit lifetime, every
// sensor that disagrees with the combined state while the fan is powered on
// and past the settle window. It is a no-op when every sensor agrees.
func (a *AnyOf) checkConflicts(ctx context.Context) {
	a.mu.Lock()
	if !a.tracker.IsPowerOn() || !a.powerOn {
		a.mu.Unlock()
		return
	}

	anyPresent, allPresent := false, true
	for _, s := range a.states {
		if s.present {
			anyPresent = true
		} else {
			allPresent = false
		}
	}
	if !anyPresent || allPresent {
		a.mu.Unlock()
		return
	}

	var toFail []int
	for i, s := range a.states {
		if !s.present && !s.conflict {
			a.states[i].conflict = true
			toFail = append(toFail, i)
		}
	}
	a.mu.Unlock()

	for _, i := range toFail {
		a.states[i].sensor.Fail(ctx)
	}
}
