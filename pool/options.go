package pool

import (
	"time"

	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/parallel/metrics"
)

// Option configures a Pool. Use New(ctx, factory, opts...) to construct.
type Option func(*config) error

// WithMinInstances sets the instance floor (must be >= 0).
func WithMinInstances(n int) Option {
	return func(cfg *config) error {
		if n < 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithMinInstances requires n >= 0"))
		}
		cfg.MinInstances = n
		return nil
	}
}

// WithMaxInstances sets the instance ceiling (must be >= 1).
func WithMaxInstances(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithMaxInstances requires n >= 1"))
		}
		cfg.MaxInstances = n
		return nil
	}
}

// WithScaleThresholds sets the utilization thresholds: shrink below down,
// grow above up. Requires 0 <= down < up <= 1.
func WithScaleThresholds(down, up float64) Option {
	return func(cfg *config) error {
		if down < 0 || up > 1 || down >= up {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithScaleThresholds requires 0 <= down < up <= 1"))
		}
		cfg.ScaleDownAt = down
		cfg.ScaleUpAt = up
		return nil
	}
}

// WithScaleInterval sets the auto-scale tick period (must be > 0).
func WithScaleInterval(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithScaleInterval requires d > 0"))
		}
		cfg.ScaleInterval = d
		return nil
	}
}

// WithoutResponsiveScale disables eager instance creation on claim misses.
func WithoutResponsiveScale() Option {
	return func(cfg *config) error { cfg.ResponsiveScale = false; return nil }
}

// WithoutAutoScale disables the periodic tick. The startup convergence to
// the minimum still runs once; responsive scaling is also disabled.
func WithoutAutoScale() Option {
	return func(cfg *config) error { cfg.AutoScale = false; return nil }
}

// WithOnAvailable registers a callback fired when an instance becomes
// available to claim (created, or released with no waiter taking it).
func WithOnAvailable(fn func()) Option {
	return func(cfg *config) error { cfg.OnAvailable = fn; return nil }
}

// WithOnReleased registers a callback fired on every release.
func WithOnReleased(fn func()) Option {
	return func(cfg *config) error { cfg.OnReleased = fn; return nil }
}

// WithOnScale registers a callback fired when a scaling operation finishes,
// receiving the resulting instance count.
func WithOnScale(fn func(instances int)) Option {
	return func(cfg *config) error { cfg.OnScale = fn; return nil }
}

// WithOnUsage registers a callback receiving the utilization computed each
// tick, in [0,1].
func WithOnUsage(fn func(usage float64)) Option {
	return func(cfg *config) error { cfg.OnUsage = fn; return nil }
}

// WithOnError registers a callback receiving recoverable pool errors:
// factory failures, runner quit failures, releases of unclaimed runners.
func WithOnError(fn func(err error)) Option {
	return func(cfg *config) error { cfg.OnError = fn; return nil }
}

// WithMetrics instruments the pool with the given provider.
func WithMetrics(p metrics.Provider) Option {
	return func(cfg *config) error {
		if p == nil {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithMetrics requires a non-nil provider"))
		}
		cfg.Metrics = p
		return nil
	}
}
