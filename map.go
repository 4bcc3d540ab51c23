package parallel

import (
	"context"
	"errors"
)

// Map applies fn to each item with bounded parallelism and blocks until the
// run finishes, returning the collected outputs in completion order and the
// aggregated error (errors.Join of all collected errors).
func Map[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, v T) (R, error), opts ...Option) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	opts = append(opts, WithErrorsCollected())
	f := Execute[T, R](ctx, FromSlice(items), fn, opts...)
	res, err := f.Await(ctx)
	if err != nil {
		return nil, err
	}
	return res.Results, errors.Join(res.Errors...)
}
