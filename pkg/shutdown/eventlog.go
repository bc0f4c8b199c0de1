// SPDX-License-Identifier: BSD-3-Clause

package shutdown

import (
	"context"
	"log/slog"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
)

// Severity mirrors the Logging.Create severity argument.
type Severity int

const (
	SeverityInformational Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInformational:
		return "Informational"
	case SeverityError:
		return "Error"
	case SeverityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

const ifaceLogging = "xyz.openbmc_project.Logging.Create"

// emitEventLog logs locally and best-effort forwards the event to the
// bus-side logging service. Failure to reach the logging service is itself
// only logged, never propagated: per the error-handling design, a failed
// log emission is never fatal.
func emitEventLog(ctx context.Context, facade *bus.Facade, logger *slog.Logger, errorName string, severity Severity, fields map[string]string) {
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, slog.String("ERROR_NAME", errorName), slog.String("SEVERITY", severity.String()))
	for k, v := range fields {
		attrs = append(attrs, slog.String(k, v))
	}

	switch severity {
	case SeverityCritical, SeverityError:
		logger.Error("shutdown: event log", attrs...)
	default:
		logger.Info("shutdown: event log", attrs...)
	}

	var reply struct{}
	args := []any{errorName, int(severity), fields}
	if err := facade.CallMethod(ctx, "", "/xyz/openbmc_project/logging", ifaceLogging, "Create", args, &reply); err != nil {
		logger.Debug("shutdown: forwarding event log to logging service failed", slog.Any("error", err))
	}
}
