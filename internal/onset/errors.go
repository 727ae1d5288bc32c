// SPDX-License-Identifier: MIT
package onset

import (
	"errors"
	"fmt"
)

// All detector failures are local to the call that caused them; none are
// transient, so callers should not retry with the same input.
var (
	ErrInvalidConfig         = errors.New("onset: invalid configuration")
	ErrInvalidFrameLength    = errors.New("onset: invalid frame length")
	ErrNonMonotonicTimestamp = errors.New("onset: non-monotonic timestamp")
	ErrIndexOutOfRange       = errors.New("onset: sample index out of range")

	// ErrSampleEvicted is returned for indices that were ingested but have
	// since left the retained history. It matches ErrIndexOutOfRange.
	ErrSampleEvicted = fmt.Errorf("%w: evicted from history", ErrIndexOutOfRange)
)
