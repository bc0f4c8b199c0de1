// SPDX-License-Identifier: BSD-3-Clause

package shutdownmon

import (
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/shutdown"
)

type config struct {
	serviceName string
	powerPath   string
	persistPath string
	hardDelay   time.Duration
	softDelay   time.Duration
	recovery    *shutdown.RecoveryConfig
}

// Option configures a ShutdownMon.
type Option interface {
	apply(*config)
}

type nameOption string

func (o nameOption) apply(c *config) { c.serviceName = string(o) }

// WithName overrides the service's registered name.
func WithName(name string) Option { return nameOption(name) }

type powerPathOption string

func (o powerPathOption) apply(c *config) { c.powerPath = string(o) }

// WithPowerPath sets the chassis power-good object path the monitor's power
// tracker watches.
func WithPowerPath(path string) Option { return powerPathOption(path) }

type persistPathOption string

func (o persistPathOption) apply(c *config) { c.persistPath = string(o) }

// WithPersistPath sets the file backing AlarmTimestamps.
func WithPersistPath(path string) Option { return persistPathOption(path) }

type delaysOption struct{ hard, soft time.Duration }

func (o delaysOption) apply(c *config) { c.hardDelay, c.softDelay = o.hard, o.soft }

// WithDelays sets the configured hard- and soft-shutdown grace periods.
func WithDelays(hard, soft time.Duration) Option { return delaysOption{hard: hard, soft: soft} }

type recoveryOption shutdown.RecoveryConfig

func (o recoveryOption) apply(c *config) { cfg := shutdown.RecoveryConfig(o); c.recovery = &cfg }

// WithRecovery enables the parallel recovery-alarm handler.
func WithRecovery(cfg shutdown.RecoveryConfig) Option { return recoveryOption(cfg) }
