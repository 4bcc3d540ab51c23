package buffer

import (
	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/parallel/metrics"
)

// pollingConfig holds Polling configuration.
type pollingConfig struct {
	// MaxSize bounds the underlying buffer. Default: 100.
	MaxSize int

	// MinInstances and MaxInstances bound the fetcher pool.
	// Defaults: 1 and 16.
	MinInstances int
	MaxInstances int

	// OnScale fires when the fetcher pool scales, with the new count.
	OnScale func(instances int)

	// OnError receives fetch errors and recoverable pool errors.
	OnError func(err error)

	// Metrics instruments the fetcher pool. Default: noop.
	Metrics metrics.Provider
}

func defaultPollingConfig() pollingConfig {
	return pollingConfig{
		MaxSize:      100,
		MinInstances: 1,
		MaxInstances: 16,
		Metrics:      metrics.NewNoopProvider(),
	}
}

// PollingOption configures a Polling buffer.
type PollingOption func(*pollingConfig) error

// WithPollingMaxSize bounds the buffer to n items (must be >= 1).
func WithPollingMaxSize(n int) PollingOption {
	return func(cfg *pollingConfig) error {
		if n < 1 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithPollingMaxSize requires n >= 1"))
		}
		cfg.MaxSize = n
		return nil
	}
}

// WithPollingInstances bounds the fetcher pool (0 <= min <= max, max >= 1).
func WithPollingInstances(min, max int) PollingOption {
	return func(cfg *pollingConfig) error {
		if min < 0 || max < 1 || min > max {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithPollingInstances requires 0 <= min <= max"))
		}
		cfg.MinInstances = min
		cfg.MaxInstances = max
		return nil
	}
}

// WithPollingOnScale registers a callback fired when the fetcher pool
// scales, receiving the resulting instance count.
func WithPollingOnScale(fn func(instances int)) PollingOption {
	return func(cfg *pollingConfig) error { cfg.OnScale = fn; return nil }
}

// WithPollingOnError registers a callback receiving fetch errors and
// recoverable pool errors.
func WithPollingOnError(fn func(err error)) PollingOption {
	return func(cfg *pollingConfig) error { cfg.OnError = fn; return nil }
}

// WithPollingMetrics instruments the fetcher pool with the given provider.
func WithPollingMetrics(p metrics.Provider) PollingOption {
	return func(cfg *pollingConfig) error {
		if p == nil {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithPollingMetrics requires a non-nil provider"))
		}
		cfg.Metrics = p
		return nil
	}
}
