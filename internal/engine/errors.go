// SPDX-License-Identifier: MIT
package engine

import "errors"

var (
	ErrInvalidSampleRate = errors.New("unsupported sample rate")
	ErrInvalidBlockSize  = errors.New("invalid maximum block size")
	ErrNoSurface         = errors.New("no control surface")
)
