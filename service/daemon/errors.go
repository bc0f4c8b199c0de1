// SPDX-License-Identifier: BSD-3-Clause

package daemon

import "errors"

var (
	// ErrNameEmpty indicates that the daemon name cannot be empty.
	ErrNameEmpty = errors.New("daemon name cannot be empty")
	// ErrIPCNil indicates that no IPC service or external connection was provided.
	ErrIPCNil = errors.New("IPC service not configured: provide either ipcConn or WithIPC option")
	// ErrAddProcess indicates that adding a process to supervision failed.
	ErrAddProcess = errors.New("failed to add process to supervision tree")
	// ErrAddExtraService indicates that adding an extra service failed.
	ErrAddExtraService = errors.New("failed to add extra service to supervision tree")
	// ErrPanicked indicates that the daemon panicked during execution.
	ErrPanicked = errors.New("daemon panicked")
	// ErrReloadFailed indicates that the configured reload callback returned an error.
	ErrReloadFailed = errors.New("configuration reload failed")
)
