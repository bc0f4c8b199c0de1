// SPDX-License-Identifier: BSD-3-Clause

package persist

import "errors"

var (
	// ErrParseFailed is returned by Open when the on-disk record exists but
	// cannot be read. A record that cannot be parsed as JSON is not reported:
	// Open deletes the file and continues with an empty table.
	ErrParseFailed = errors.New("alarm timestamp store: parse failed")
	// ErrWriteFailed indicates the atomic write-to-tmp-then-rename failed.
	ErrWriteFailed = errors.New("alarm timestamp store: write failed")
)
