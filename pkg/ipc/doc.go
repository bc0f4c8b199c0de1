// SPDX-License-Identifier: BSD-3-Clause

// Package ipc defines the NATS subject catalog shared by fan presence, fan
// control, and shutdown monitoring services, plus the ParseSubject helper
// that turns a "group.endpoint" subject into the group/endpoint pair that
// nats.go's micro package expects for service registration.
//
// Subjects are split into two namespaces: the external request/reply
// subjects services register via micro ("fan.status", "zone.set",
// "alarm.dump", ...), and the internal signal subjects published on the
// in-process bus.Facade for cross-service state propagation
// ("internal.property.changed", "internal.recovery.fired", ...).
package ipc
