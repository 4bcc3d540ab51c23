package parallel

import (
	"context"

	"github.com/ygrebnov/parallel/metrics"
)

// config holds a run's configuration.
type config struct {
	// Parallel is the target number of callbacks in flight. Must be >= 1.
	// Default: 1.
	Parallel int

	// ContinueOnError keeps starting new callbacks after an error was
	// recorded. When false, the run stops pulling the iterator on the first
	// recorded error; running callbacks finish.
	// Default: true.
	ContinueOnError bool

	// StoreOutput appends callback results to Results.Results.
	// Default: true.
	StoreOutput bool

	// ThrowOnError fails the future with *ExecutionError when at least one
	// error was collected. When false the future succeeds with
	// Results.Errors populated.
	// Default: true.
	ThrowOnError bool

	// MaxErrors caps the number of retained errors; excess errors are
	// dropped. Zero means unbounded.
	// Default: 0.
	MaxErrors int

	// Teardown runs once when the run winds down. Errors are recorded.
	// ExecuteWithInit uses it only when its explicit teardown is nil.
	Teardown func(ctx context.Context) error

	// Metrics receives run instrumentation. Default: noop.
	Metrics metrics.Provider
}
