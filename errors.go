package parallel

import "errors"

const Namespace = "parallel"

var (
	// ErrAbort is the distinguished error a callback returns to stop the run
	// without counting as a failure. The executor marks the run aborted,
	// stops starting new callbacks, and lets running ones finish.
	ErrAbort = errors.New(Namespace + ": abort requested")

	// ErrAbortNotImplemented is returned by Future.Abort when no abort
	// function was installed on the future.
	ErrAbortNotImplemented = errors.New(Namespace + ": abort not implemented")

	// ErrNilSource is recorded when a producer function resolves to a zero
	// source or a nil iterator.
	ErrNilSource = errors.New(Namespace + ": source resolved to nothing")

	// ErrTaskPanicked wraps a panic recovered from a user callback.
	ErrTaskPanicked = errors.New(Namespace + ": callback panicked")

	ErrInvalidConfig = errors.New(Namespace + ": invalid configuration")
)
