package buffer

import "errors"

const Namespace = "buffer"

var (
	// ErrClosed is returned by Push after Quit was initiated.
	ErrClosed = errors.New(Namespace + ": buffer is closed")

	ErrInvalidConfig = errors.New(Namespace + ": invalid configuration")
)
