package parallel

import (
	"context"
	"errors"
)

// ForEach applies fn to each item with bounded parallelism and blocks until
// the run finishes. It is an error-only convenience over Execute: no results
// are accumulated, and the aggregated error (errors.Join of all collected
// errors) is returned, or nil when every item succeeded.
// Options like WithParallel and WithStopOnError are honored.
func ForEach[T any](ctx context.Context, items []T, fn func(ctx context.Context, v T) error, opts ...Option) error {
	if len(items) == 0 {
		return nil
	}
	opts = append(opts, WithDiscardResults(), WithErrorsCollected())
	f := Execute[T, struct{}](ctx, FromSlice(items), func(c context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(c, v)
	}, opts...)
	res, err := f.Await(ctx)
	if err != nil {
		return err
	}
	return errors.Join(res.Errors...)
}
