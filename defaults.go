package parallel

import "github.com/ygrebnov/parallel/metrics"

// defaultConfig centralizes default values for config.
// This acts as the library's "model" of defaults.
func defaultConfig() config {
	return config{
		Parallel:        1,
		ContinueOnError: true,
		StoreOutput:     true,
		ThrowOnError:    true,
		MaxErrors:       0, // unbounded
		Metrics:         metrics.NewNoopProvider(),
	}
}
