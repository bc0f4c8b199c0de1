// SPDX-License-Identifier: BSD-3-Clause

package presence

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultEEPROMEventDelay is the default delay between an overall presence
// transition and the corresponding sysfs bind/unbind, giving the new device
// time to settle on the bus before the driver probes it.
const DefaultEEPROMEventDelay = 1 * time.Second

// EEPROMDevice drives the sysfs bind/unbind of a fan's inventory EEPROM
// device. It is bound on a false->true overall presence transition and
// unbound on a true->false transition, each after a configurable delay, and
// each event cancels any still-pending opposite event.
type EEPROMDevice struct {
	driver  string
	address string
	delay   time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewEEPROMDevice constructs an EEPROMDevice bound to the i2c driver/address
// pair (e.g. driver "at24", address "3-0050").
func NewEEPROMDevice(driver, address string, delay time.Duration, logger *slog.Logger) *EEPROMDevice {
	if delay <= 0 {
		delay = DefaultEEPROMEventDelay
	}
	return &EEPROMDevice{driver: driver, address: address, delay: delay, logger: logger}
}

// BindAfterDelay schedules a bind, replacing any previously scheduled event.
func (e *EEPROMDevice) BindAfterDelay() {
	e.schedule(true)
}

// UnbindAfterDelay schedules an unbind, replacing any previously scheduled event.
func (e *EEPROMDevice) UnbindAfterDelay() {
	e.schedule(false)
}

func (e *EEPROMDevice) schedule(bind bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.delay, func() {
		var err error
		if bind {
			err = e.doBind()
		} else {
			err = e.doUnbind()
		}
		if err != nil {
			e.logger.Warn("presence: eeprom bind/unbind failed",
				slog.String("DRIVER", e.driver), slog.String("ADDRESS", e.address),
				slog.Bool("bind", bind), slog.Any("error", err))
		}
	})
}

func (e *EEPROMDevice) doBind() error {
	return os.WriteFile(filepath.Join("/sys/bus/i2c/drivers", e.driver, "bind"), []byte(e.address), 0o200)
}

func (e *EEPROMDevice) doUnbind() error {
	return os.WriteFile(filepath.Join("/sys/bus/i2c/drivers", e.driver, "unbind"), []byte(e.address), 0o200)
}
