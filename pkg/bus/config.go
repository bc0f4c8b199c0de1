// SPDX-License-Identifier: BSD-3-Clause

package bus

import "time"

// DefaultRequestTimeout is the timeout value a Facade's config holds when
// WithTimeout is not given. The request path does not apply it:
// GetProperty/SetProperty/CallMethod/GetService/GetSubTreePaths/
// GetManagedObjects wait for a reply only as long as the caller's context.
const DefaultRequestTimeout = 5 * time.Second

type config struct {
	timeout time.Duration
}

// Option configures a Facade.
type Option interface {
	apply(*config)
}

type timeoutOption struct {
	timeout time.Duration
}

func (o *timeoutOption) apply(c *config) {
	c.timeout = o.timeout
}

// WithTimeout overrides the timeout value held in the Facade's config.
// Requests are not bounded by it; only the caller's context bounds them.
func WithTimeout(timeout time.Duration) Option {
	return &timeoutOption{timeout: timeout}
}

func newConfig(opts ...Option) *config {
	cfg := &config{timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt.apply(cfg)
	}
	return cfg
}
