package pool

import (
	"time"

	"github.com/ygrebnov/parallel/metrics"
)

// config holds Pool configuration.
type config struct {
	// MinInstances is the floor the pool converges to at startup and never
	// scales below. Default: 1.
	MinInstances int

	// MaxInstances caps the instance list. Default: 16.
	MaxInstances int

	// ScaleDownAt and ScaleUpAt are utilization thresholds in [0,1] with
	// ScaleDownAt < ScaleUpAt. A tick with usage above ScaleUpAt grows the
	// pool by one; below ScaleDownAt shrinks it by one.
	// Defaults: 0.4 and 0.8.
	ScaleDownAt float64
	ScaleUpAt   float64

	// ScaleInterval is the auto-scale tick period. Default: 1s.
	ScaleInterval time.Duration

	// ResponsiveScale creates a new instance immediately on a claim miss
	// below MaxInstances instead of waiting for a tick. Effective only when
	// AutoScale is enabled. Default: true.
	ResponsiveScale bool

	// AutoScale enables the periodic tick. When disabled, no ticker runs
	// and ResponsiveScale is ignored, but the startup convergence to
	// MinInstances still happens. Default: true.
	AutoScale bool

	// Notification callbacks. All optional; invoked outside the pool lock.
	OnAvailable func()
	OnReleased  func()
	OnScale     func(instances int)
	OnUsage     func(usage float64)
	OnError     func(err error)

	// Metrics receives pool instrumentation. Default: noop.
	Metrics metrics.Provider
}

// defaultConfig centralizes default values for config.
func defaultConfig() config {
	return config{
		MinInstances:    1,
		MaxInstances:    16,
		ScaleDownAt:     0.4,
		ScaleUpAt:       0.8,
		ScaleInterval:   time.Second,
		ResponsiveScale: true,
		AutoScale:       true,
		Metrics:         metrics.NewNoopProvider(),
	}
}

func validateConfig(cfg *config) error {
	switch {
	case cfg.MinInstances < 0:
		return ErrInvalidConfig
	case cfg.MaxInstances < 1 || cfg.MinInstances > cfg.MaxInstances:
		return ErrInvalidConfig
	case cfg.ScaleDownAt < 0 || cfg.ScaleUpAt > 1 || cfg.ScaleDownAt >= cfg.ScaleUpAt:
		return ErrInvalidConfig
	case cfg.ScaleInterval <= 0:
		return ErrInvalidConfig
	}
	return nil
}
