// SPDX-License-Identifier: BSD-3-Clause

package presence

import "time"

// SensorKind selects which PresenceSensor variant a SensorSpec describes.
type SensorKind int

const (
	// SensorTach reads a tach feedback Value property.
	SensorTach SensorKind = iota
	// SensorGPIO reads a GPIO line level.
	SensorGPIO
	// SensorNull is a sensor that always reports absent, used when hardware
	// could not be opened or a fan has no physical presence detection.
	SensorNull
)

// SensorSpec describes one PresenceSensor belonging to a Fan.
type SensorSpec struct {
	Kind SensorKind

	// TachPath is the Sensor.Value object path, used when Kind is SensorTach.
	TachPath string

	// Chip, Line and AssertedLevel describe the GPIO line, used when Kind is
	// SensorGPIO. AssertedLevel is the line value that means "present".
	Chip          string
	Line          string
	AssertedLevel int

	// NullReason is logged once, used when Kind is SensorNull.
	NullReason string
}

// PolicyKind selects which RedundancyPolicy variant combines a Fan's sensors.
type PolicyKind int

const (
	// PolicyAnyOf reports present if any sensor reports present.
	PolicyAnyOf PolicyKind = iota
	// PolicyFallback reports the highest-priority sensor's verdict, falling
	// through to lower-priority sensors on disagreement.
	PolicyFallback
)

// FanConfig describes one fan's presence configuration: its inventory
// object path, the sensors backing it, how they combine, its optional
// missing-time error budget, and its optional EEPROM bind/unbind target.
type FanConfig struct {
	Path       string
	PrettyName string
	Sensors    []SensorSpec
	Policy     PolicyKind

	// MissingTimeBudget is how long the fan may be absent, while the
	// chassis is powered on, before ErrorReporter logs it. Zero disables
	// the report for this fan.
	MissingTimeBudget time.Duration

	// EEPROMDriver and EEPROMAddress identify the fan's inventory EEPROM
	// i2c device. Empty EEPROMDriver means the fan has none.
	EEPROMDriver  string
	EEPROMAddress string
	EEPROMDelay   time.Duration
}
