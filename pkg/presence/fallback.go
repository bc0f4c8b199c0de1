// SPDX-License-Identifier: BSD-3-Clause

package presence

import (
	"context"
	"log/slog"
	"sync"
)

// Fallback is a RedundancyPolicy over sensors listed in priority order. The
// first sensor's verdict is authoritative. When it reports absent but a
// lower-priority sensor reports present, the higher-priority sensor is
// deemed failed: Fail is called once and the policy falls through to the
// lower-priority sensor's verdict. Each subsequent priority cascades the
// same comparison against the one below it.
type Fallback struct {
	fanName string
	eeprom  *EEPROMDevice
	publish func(bool)
	logger  *slog.Logger

	mu     sync.Mutex
	states []sensorState
	result bool
}

// NewFallback constructs a Fallback policy over sensors, highest priority first.
func NewFallback(fanName string, sensors []Sensor, eeprom *EEPROMDevice, publish func(bool), logger *slog.Logger) *Fallback {
	f := &Fallback{fanName: fanName, eeprom: eeprom, publish: publish, logger: logger}
	for _, s := range sensors {
		f.states = append(f.states, sensorState{sensor: s})
	}
	return f
}

func (f *Fallback) Monitor(ctx context.Context) error {
	for i := range f.states {
		present, err := f.states[i].sensor.Start(ctx)
		if err != nil {
			f.logger.Warn("presence: sensor start failed, treating as absent",
				slog.String("FAN", f.fanName), slog.Any("error", err))
			present = false
		}
		f.states[i].present = present
	}
	result, toFail := f.resolveAndMark()
	f.mu.Lock()
	f.result = result
	f.mu.Unlock()
	f.publish(result)
	for _, i := range toFail {
		f.states[i].sensor.Fail(ctx)
	}
	return nil
}

func (f *Fallback) Stop() {
	for i := range f.states {
		f.states[i].sensor.Stop()
	}
}

func (f *Fallback) Present() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// StateChanged is the sensor onChange callback: sensor index idx has
// changed to the given presence state.
func (f *Fallback) StateChanged(ctx context.Context, idx int, present bool) {
	f.mu.Lock()
	before := f.result
	f.states[idx].present = present
	f.mu.Unlock()

	after, toFail := f.resolveAndMark()
	for _, i := range toFail {
		f.states[i].sensor.Fail(ctx)
	}

	f.mu.Lock()
	f.result = after
	f.mu.Unlock()

	if after != before {
		f.publish(after)
		if f.eeprom != nil {
			if after {
				f.eeprom.BindAfterDelay()
			} else {
				f.eeprom.UnbindAfterDelay()
			}
		}
	}
}

// resolveAndMark walks the priority list: while the current sensor reports
// absent, it compares against the next one down. A next sensor that reports
// present marks the current one as a fresh disagreement (once per conflict
// lifetime) and the walk stops there; two absent sensors in a row continue
// the cascade to the next pair. The final verdict is whichever sensor the
// walk stops on.
func (f *Fallback) resolveAndMark() (bool, []int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.states)
	if n == 0 {
		return false, nil
	}

	var toFail []int
	i := 0
	for i < n-1 && !f.states[i].present {
		if f.states[i+1].present && !f.states[i].conflict {
			f.states[i].conflict = true
			toFail = append(toFail, i)
		} else if !f.states[i+1].present {
			f.states[i].conflict = false
		}
		i++
	}
	return f.states[i].present, toFail
}
