// SPDX-License-Identifier: BSD-3-Clause

package shutdown

import "errors"

var (
	// ErrDumpFailed indicates the best-effort BMC dump request failed. It is
	// always logged, never fatal: protection still proceeds without a dump.
	ErrDumpFailed = errors.New("shutdown: dump request failed")
	// ErrUnitStartFailed indicates the systemd StartUnit call for a
	// protection or recovery target failed.
	ErrUnitStartFailed = errors.New("shutdown: systemd unit start failed")
)
