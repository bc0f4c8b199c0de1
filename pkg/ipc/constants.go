// SPDX-License-Identifier: BSD-3-Clause

package ipc

import (
	"fmt"
	"strings"
)

// IPC Subject Constants for NATS Micro Services
// These constants define the subjects used for inter-process communication.
// Services should use these constants rather than constructing subjects dynamically.

// Fan Presence Service Subjects
const (
	SubjectFanPresence = "fan.presence"
	SubjectFanList     = "fan.list"
	SubjectFanStatus   = "fan.status"
)

// Fan Control Service Subjects
const (
	SubjectZoneStatus = "zone.status"
	SubjectZoneSet    = "zone.set"
	SubjectZoneList   = "zone.list"
	SubjectZoneLock   = "zone.lock"
	SubjectZoneUnlock = "zone.unlock"
)

// Shutdown Monitor Service Subjects
const (
	SubjectAlarmStatus = "alarm.status"
	SubjectAlarmList   = "alarm.list"
	SubjectAlarmDump   = "alarm.dump"
)

// Internal IPC Subjects (BusFacade signal surface for service-to-service propagation)
const (
	// Fan presence propagation (PresenceEngine)
	InternalPresenceChanged = "internal.presence.changed"

	// Fan control propagation (ControlEngine preconditions/events)
	InternalPropertyChanged = "internal.property.changed"

	// Shutdown monitor propagation
	InternalSystemProtectionTriggered = "internal.system.protection_triggered"
	InternalRecoveryFired             = "internal.recovery.fired"
)

// IPCError represents a structured IPC error.
type IPCError struct {
	Code    string
	Message string
}

func (e *IPCError) Error() string {
	return e.Message
}

// NewIPCError creates a new IPC error.
func NewIPCError(code, message string) *IPCError {
	return &IPCError{
		Code:    code,
		Message: message,
	}
}

// ParseSubject splits a subject into group and endpoint components for NATS micro registration.
// For subjects like "fan.status", it returns group="fan" and endpoint="status".
// Returns an error if the subject doesn't contain exactly one dot or if components are empty.
func ParseSubject(subject string) (group, endpoint string, err error) {
	if subject == "" {
		return "", "", NewIPCError("INVALID_SUBJECT", "subject cannot be empty")
	}

	parts := strings.Split(subject, ".")
	if len(parts) != 2 {
		return "", "", NewIPCError("INVALID_SUBJECT", fmt.Sprintf("subject %s must contain exactly one dot", subject))
	}

	group = strings.TrimSpace(parts[0])
	endpoint = strings.TrimSpace(parts[1])

	if group == "" {
		return "", "", NewIPCError("INVALID_SUBJECT", "group component cannot be empty")
	}

	if endpoint == "" {
		return "", "", NewIPCError("INVALID_SUBJECT", "endpoint component cannot be empty")
	}

	return group, endpoint, nil
}
