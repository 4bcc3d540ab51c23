package pool

import "errors"

const Namespace = "pool"

var (
	// ErrClosed is returned by Claim, Do, ScaleUp, and ScaleDown after Quit
	// was initiated.
	ErrClosed = errors.New(Namespace + ": pool is closed")

	// ErrUnknownRunner is returned by Release for a runner this pool does
	// not own.
	ErrUnknownRunner = errors.New(Namespace + ": runner does not belong to this pool")

	// ErrNotClaimed is returned by Release for a runner that is not
	// currently claimed. It is also reported to the error callback.
	ErrNotClaimed = errors.New(Namespace + ": runner is not claimed")

	// ErrFactory wraps a runner factory failure. The pool does not grow.
	ErrFactory = errors.New(Namespace + ": runner factory failed")

	// ErrRunnerQuit wraps a failure from a runner's Quit. Scale-down and
	// pool shutdown proceed regardless.
	ErrRunnerQuit = errors.New(Namespace + ": runner quit failed")

	ErrInvalidConfig = errors.New(Namespace + ": invalid configuration")
)
