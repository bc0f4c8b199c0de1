// SPDX-License-Identifier: BSD-3-Clause

//go:build linux
// +build linux

// Package gpio provides a high-level abstraction for GPIO operations in BMC environments.
//
// This package wraps the low-level gpio-cdev functionality and provides a more convenient
// and BMC-specific interface for common GPIO operations such as power control, reset
// operations, status indicators, and general I/O.
//
// # Key Concepts
//
// GPIO Chip: A GPIO controller that manages a collection of GPIO lines. In BMC systems,
// you typically have multiple GPIO chips (e.g., /dev/gpiochip0, /dev/gpiochip1).
//
// GPIO Line: An individual GPIO pin within a chip. Lines can be configured as inputs
// or outputs and may have additional properties like pull-up/pull-down resistors.
//
// Line Configuration: Each GPIO line can be configured with specific properties such as
// direction (input/output), initial value, bias (pull-up/pull-down), and edge detection.
//
// # One-shot Usage
//
// For a single get/set/toggle, the package-level helpers request the line, perform the
// operation, and close it again:
//
//	if err := gpio.SetGPIO("/dev/gpiochip0", "power-led", 1, gpio.WithConsumer("bmcd")); err != nil {
//		log.Fatal(err)
//	}
//
//	if err := gpio.ToggleGPIO("/dev/gpiochip0", "power-button", 200*time.Millisecond); err != nil {
//		log.Fatal(err)
//	}
//
// # Holding a Line Open
//
// RequestLine and RequestLineByNumber return the underlying line so callers can read or
// write it repeatedly before closing it themselves:
//
//	line, err := gpio.RequestLine("/dev/gpiochip0", "power-status",
//		gpio.WithDirection(gpio.DirectionInput),
//		gpio.WithBias(gpio.BiasPullUp),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer line.Close()
//
//	powered, err := line.Value()
//
// # Event Monitoring
//
// RequestLineMonitored requests a line configured for edge detection and returns a Line
// wrapper with an event channel, for use with LineMonitor:
//
//	line, err := gpio.RequestLineMonitored("/dev/gpiochip0", "fan-tach",
//		gpio.WithDirection(gpio.DirectionInput),
//		gpio.WithEdge(gpio.EdgeBoth),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer line.Close()
//
//	monitor := gpio.NewLineMonitor(line, func(event gpio.Event) {
//		fmt.Printf("edge %s at %v\n", event.Edge, event.Timestamp)
//	})
//	if err := monitor.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer monitor.Stop()
//
// # Error Handling
//
// The package provides specific error types for different failure scenarios:
//
//	line, err := gpio.RequestLine("/dev/gpiochip0", "non-existent-line")
//	if err != nil {
//		switch {
//		case errors.Is(err, gpio.ErrChipNotFound):
//			log.Fatal("GPIO chip not available")
//		case errors.Is(err, gpio.ErrLineNotFound):
//			log.Fatal("GPIO line not found")
//		case errors.Is(err, gpio.ErrPermissionDenied):
//			log.Fatal("Insufficient permissions for GPIO access")
//		default:
//			log.Fatalf("Unexpected error: %v", err)
//		}
//	}
//
// # Thread Safety
//
// LineMonitor and LineState are safe for concurrent use. The raw lines returned by
// RequestLine and friends follow gpiocdev's own concurrency guarantees.
//
// # Platform Considerations
//
// This package is designed for Linux systems with GPIO character device support
// (/dev/gpiochipN). Ensure your kernel has CONFIG_GPIO_CDEV enabled and that
// your user has appropriate permissions to access GPIO devices.
//
// Common BMC platforms supported:
//   - ASPEED AST2400/AST2500/AST2600
//   - Nuvoton NPCM7xx
//   - Raspberry Pi (for development/testing)
//   - Generic Linux systems with GPIO character device support
package gpio
