// SPDX-License-Identifier: BSD-3-Clause

// Package presence implements PresenceEngine: the redundancy logic that
// turns one or more raw sensor readings per fan into a single published
// present/absent state, with conflict detection, EEPROM bind/unbind and a
// per-fan missing-time error report.
package presence

import "context"

// RedundancyPolicy combines the Sensors of a single Fan into one published
// presence state. AnyOf and Fallback are the two variants.
type RedundancyPolicy interface {
	// Monitor starts every underlying sensor and publishes the initial
	// combined state.
	Monitor(ctx context.Context) error
	// Stop stops every underlying sensor.
	Stop()
	// Present returns the last published combined state.
	Present() bool
}

// sensorState is one redundancy policy's view of a single underlying sensor:
// its last known presence and whether it has already been flagged as
// disagreeing with its peers (to avoid re-logging the same conflict).
type sensorState struct {
	sensor   Sensor
	present  bool
	conflict bool
}
