// SPDX-License-Identifier: BSD-3-Clause

package presencemgr

import "github.com/openbmc/phosphor-fan-presence-sub001/pkg/presence"

type config struct {
	serviceName string
	powerPath   string
	fans        []presence.FanConfig
}

// Option configures a PresenceMgr.
type Option interface {
	apply(*config)
}

type nameOption string

func (o nameOption) apply(c *config) { c.serviceName = string(o) }

// WithName overrides the service's registered name.
func WithName(name string) Option { return nameOption(name) }

type powerPathOption string

func (o powerPathOption) apply(c *config) { c.powerPath = string(o) }

// WithPowerPath sets the chassis power-good object path the engine's power
// tracker watches.
func WithPowerPath(path string) Option { return powerPathOption(path) }

type fansOption []presence.FanConfig

func (o fansOption) apply(c *config) { c.fans = append(c.fans, []presence.FanConfig(o)...) }

// WithFans adds the statically configured fans to monitor.
func WithFans(fans ...presence.FanConfig) Option { return fansOption(fans) }
