package parallel

import (
	"context"

	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/parallel/metrics"
)

// Option configures a run. Pass options to Execute or ExecuteWithInit.
// An invalid option fails the run's future immediately with ErrInvalidConfig.
type Option func(*config) error

// WithParallel sets the target number of callbacks in flight (must be >= 1).
func WithParallel(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithParallel requires n >= 1"))
		}
		cfg.Parallel = n
		return nil
	}
}

// WithStopOnError stops starting new callbacks after the first recorded
// error. Callbacks already in flight finish.
func WithStopOnError() Option {
	return func(cfg *config) error { cfg.ContinueOnError = false; return nil }
}

// WithErrorsCollected makes the future succeed with Results.Errors populated
// instead of failing with *ExecutionError.
func WithErrorsCollected() Option {
	return func(cfg *config) error { cfg.ThrowOnError = false; return nil }
}

// WithDiscardResults drops callback outputs instead of accumulating them.
func WithDiscardResults() Option {
	return func(cfg *config) error { cfg.StoreOutput = false; return nil }
}

// WithMaxErrors caps the number of retained errors (must be >= 1).
// Errors beyond the cap are dropped.
func WithMaxErrors(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithMaxErrors requires n >= 1"))
		}
		cfg.MaxErrors = n
		return nil
	}
}

// WithTeardown registers a teardown invoked once when the run winds down,
// after the last in-flight callback finished. A teardown error is recorded
// in Results.Errors but does not prevent completion.
func WithTeardown(fn func(ctx context.Context) error) Option {
	return func(cfg *config) error { cfg.Teardown = fn; return nil }
}

// WithMetrics instruments the run with the given provider.
func WithMetrics(p metrics.Provider) Option {
	return func(cfg *config) error {
		if p == nil {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithMetrics requires a non-nil provider"))
		}
		cfg.Metrics = p
		return nil
	}
}
