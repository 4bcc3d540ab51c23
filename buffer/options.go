package buffer

import "github.com/ygrebnov/errorc"

// config holds Buffer configuration.
type config struct {
	// MaxSize bounds the number of buffered items. Default: 100.
	MaxSize int

	// Notification callbacks, fired outside the buffer lock.
	OnPush func()
	OnPop  func()
}

func defaultConfig() config {
	return config{MaxSize: 100}
}

// Option configures a Buffer.
type Option func(*config) error

// WithMaxSize bounds the buffer to n items (must be >= 1).
func WithMaxSize(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithMaxSize requires n >= 1"))
		}
		cfg.MaxSize = n
		return nil
	}
}

// WithOnPush registers a callback fired after every successful push.
func WithOnPush(fn func()) Option {
	return func(cfg *config) error { cfg.OnPush = fn; return nil }
}

// WithOnPop registers a callback fired after every successful pop.
func WithOnPop(fn func()) Option {
	return func(cfg *config) error { cfg.OnPop = fn; return nil }
}
