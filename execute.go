package parallel

import "context"

// Execute runs fn over every value source yields, keeping up to
// WithParallel(n) invocations in flight, and returns a future resolving to
// the aggregated results.
//
// Semantics:
//   - The future is returned immediately; source resolution and scheduling
//     happen on a separate goroutine.
//   - Results are collected in completion order, not input order.
//   - A callback error is recorded; WithStopOnError stops intake on the
//     first one. A callback returning ErrAbort marks the run aborted instead.
//   - Teardown registered via WithTeardown runs once after the last
//     in-flight callback finished.
//   - Invalid options resolve the future immediately with the option error.
func Execute[T, R any](
	ctx context.Context,
	source Source[T],
	fn func(ctx context.Context, v T) (R, error),
	opts ...Option,
) *Future[R] {
	return executeInternal[T, struct{}, R](
		ctx,
		func(context.Context) (Source[T], struct{}, error) { return source, struct{}{}, nil },
		func(c context.Context, v T, _ struct{}) (R, error) { return fn(c, v) },
		nil,
		opts...,
	)
}

// ExecuteWithInit is Execute with a setup stage. setup produces the source
// and an init value; init is threaded into every callback invocation and
// into teardown. A setup error (or panic) is recorded as the run's single
// error and no work starts; teardown is still invoked with the zero init.
func ExecuteWithInit[T, I, R any](
	ctx context.Context,
	setup func(ctx context.Context) (Source[T], I, error),
	fn func(ctx context.Context, v T, init I) (R, error),
	teardown func(ctx context.Context, init I) error,
	opts ...Option,
) *Future[R] {
	return executeInternal[T, I, R](ctx, setup, fn, teardown, opts...)
}

func executeInternal[T, I, R any](
	ctx context.Context,
	setup func(ctx context.Context) (Source[T], I, error),
	fn func(ctx context.Context, v T, init I) (R, error),
	teardown func(ctx context.Context, init I) error,
	opts ...Option,
) *Future[R] {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			f := NewFuture[R](nil)
			f.complete(nil, err)
			return f
		}
	}

	if teardown == nil && cfg.Teardown != nil {
		td := cfg.Teardown
		teardown = func(c context.Context, _ I) error { return td(c) }
	}

	e := newExecutor[T, I, R](ctx, cfg, fn, teardown)
	go e.run(setup)
	return e.future
}
