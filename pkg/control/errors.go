// SPDX-License-Identifier: BSD-3-Clause

package control

import "errors"

var (
	// ErrTargetWriteFailed indicates a fan output's Target property write failed.
	ErrTargetWriteFailed = errors.New("control: fan target write failed")
	// ErrSnapshotFailed indicates a zone could not read one of its tracked
	// properties at construction; the property is simply left absent from
	// the cache rather than failing construction.
	ErrSnapshotFailed = errors.New("control: property snapshot failed")
)

// TargetWriteError carries the context of a failed Target write, per the
// fan-output failure contract.
type TargetWriteError struct {
	Fan       string
	Service   string
	Path      string
	Interface string
	Property  string
	Err       error
}

func (e *TargetWriteError) Error() string {
	return "control: " + e.Fan + ": target write failed: " + e.Err.Error()
}

func (e *TargetWriteError) Unwrap() error { return e.Err }
