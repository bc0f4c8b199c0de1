// SPDX-License-Identifier: BSD-3-Clause

package presence

import "errors"

var (
	// ErrSensorConstructionFailed indicates a presence sensor could not be
	// constructed (device open, IOCTL, or initial bus read failure). Callers
	// degrade to a Null sensor rather than propagate this.
	ErrSensorConstructionFailed = errors.New("presence: sensor construction failed")
	// ErrSensorRead indicates a synchronous present() read failed.
	ErrSensorRead = errors.New("presence: sensor read failed")
)
