package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ygrebnov/parallel/metrics"
)

// executor drives up to cfg.Parallel concurrent callback invocations over a
// resolved iterator, collecting outputs into res and completing future once
// the run winds down.
//
// Mutable state is guarded by mu. The iterator is only ever advanced while
// filling is set, so Next is never called concurrently.
type executor[T, I, R any] struct {
	ctx      context.Context
	cfg      config
	fn       func(ctx context.Context, v T, init I) (R, error)
	teardown func(ctx context.Context, init I) error
	future   *Future[R]

	mu        sync.Mutex
	res       Results[R]
	it        Iterator[T]
	init      I
	running   int
	filling   bool
	exhausted bool
	finished  bool

	mFulfilled metrics.Counter
	mErrors    metrics.Counter
	mDuration  metrics.Histogram
}

func newExecutor[T, I, R any](
	ctx context.Context,
	cfg config,
	fn func(ctx context.Context, v T, init I) (R, error),
	teardown func(ctx context.Context, init I) error,
) *executor[T, I, R] {
	e := &executor[T, I, R]{
		ctx:      ctx,
		cfg:      cfg,
		fn:       fn,
		teardown: teardown,

		mFulfilled: cfg.Metrics.Counter("parallel_tasks_fulfilled_total",
			metrics.WithDescription("callbacks completed without error")),
		mErrors: cfg.Metrics.Counter("parallel_tasks_errors_total",
			metrics.WithDescription("callbacks that returned an error")),
		mDuration: cfg.Metrics.Histogram("parallel_task_duration_seconds",
			metrics.WithUnit("seconds")),
	}
	e.future = NewFuture[R](e.abort)
	return e
}

// run resolves the source and enters the fill loop. It executes on its own
// goroutine; Execute returns the future immediately.
func (e *executor[T, I, R]) run(setup func(ctx context.Context) (Source[T], I, error)) {
	src, init, err := callSetup(e.ctx, setup)
	if err == nil {
		e.init = init
		var it Iterator[T]
		it, err = src.resolve(e.ctx)
		if err == nil {
			e.mu.Lock()
			e.it = it
			e.mu.Unlock()
		}
	}
	if err != nil {
		// Source resolution failed: the run has exactly this error and must
		// not start any work.
		e.mu.Lock()
		e.recordErrorLocked(err)
		e.cfg.ContinueOnError = false
		e.exhausted = true
		e.mu.Unlock()
	}
	e.fill()
}

// callSetup invokes the setup function with panic recovery.
func callSetup[T, I any](ctx context.Context, setup func(ctx context.Context) (Source[T], I, error)) (s Source[T], init I, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return setup(ctx)
}

// shouldContinueLocked reports whether new callbacks may still be started.
// It is re-evaluated at every fill iteration, so an error recorded while a
// fill pass is pulling stops further starts at the next check.
func (e *executor[T, I, R]) shouldContinueLocked() bool {
	return !e.res.Aborted && (e.cfg.ContinueOnError || len(e.res.Errors) == 0)
}

// fill tops the run up to the target parallelism. A single fill executes at
// a time; completion continuations re-enter it. When nothing is running and
// nothing more will start, fill hands off to finish.
func (e *executor[T, I, R]) fill() {
	e.mu.Lock()
	if e.filling || e.finished {
		e.mu.Unlock()
		return
	}
	e.filling = true
	for e.running < e.cfg.Parallel && !e.exhausted && e.shouldContinueLocked() {
		e.mu.Unlock()
		v, ok, err := e.next()
		e.mu.Lock()
		if err != nil {
			// An iterator advance error ends intake; running callbacks drain.
			e.recordErrorLocked(err)
			e.cfg.ContinueOnError = false
			e.exhausted = true
			break
		}
		if !ok {
			e.exhausted = true
			break
		}
		e.running++
		go e.invoke(v)
	}
	e.filling = false
	if e.running == 0 && (e.exhausted || !e.shouldContinueLocked()) && !e.finished {
		e.finished = true
		e.mu.Unlock()
		e.finish()
		return
	}
	e.mu.Unlock()
}

func (e *executor[T, I, R]) next() (T, bool, error) {
	if e.it == nil {
		var zero T
		return zero, false, nil
	}
	return e.it.Next(e.ctx)
}

// invoke runs a single callback and applies its completion continuation.
func (e *executor[T, I, R]) invoke(v T) {
	start := time.Now()
	r, err := e.call(v)
	e.mDuration.Record(time.Since(start).Seconds())

	e.mu.Lock()
	switch {
	case err == nil:
		if e.cfg.StoreOutput {
			e.res.Results = append(e.res.Results, r)
		}
		e.res.Fulfilled++
		e.mFulfilled.Add(1)
	case errors.Is(err, ErrAbort):
		// Abort signal: stop starting new work, count neither as fulfilled
		// nor as failed.
		e.res.Aborted = true
	default:
		e.recordErrorLocked(err)
	}
	e.running--
	e.mu.Unlock()

	e.fill()
}

// call invokes the user callback with panic recovery.
func (e *executor[T, I, R]) call(v T) (r R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return e.fn(e.ctx, v, e.init)
}

// recordErrorLocked appends err to the results, honoring the MaxErrors cap.
func (e *executor[T, I, R]) recordErrorLocked(err error) {
	e.mErrors.Add(1)
	if e.cfg.MaxErrors > 0 && len(e.res.Errors) >= e.cfg.MaxErrors {
		return
	}
	e.res.Errors = append(e.res.Errors, err)
}

// abort marks the run aborted. Running callbacks finish; their completions
// observe the flag and wind the run down.
func (e *executor[T, I, R]) abort() {
	e.mu.Lock()
	e.res.Aborted = true
	e.mu.Unlock()
}

// finish runs teardown exactly once and completes the future. finish is only
// reached from fill with the finished flag already set.
func (e *executor[T, I, R]) finish() {
	if e.teardown != nil {
		if err := e.callTeardown(); err != nil {
			e.mu.Lock()
			e.recordErrorLocked(err)
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	res := e.res
	failed := e.cfg.ThrowOnError && len(res.Errors) > 0
	e.mu.Unlock()

	if failed {
		e.future.complete(&res, &ExecutionError[R]{Result: &res})
		return
	}
	e.future.complete(&res, nil)
}

func (e *executor[T, I, R]) callTeardown() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return e.teardown(e.ctx, e.init)
}

func panicError(p any) error {
	return fmt.Errorf("%w: %v", ErrTaskPanicked, p)
}
