package parallel

import (
	"context"
	"sync"
)

// Future is a one-shot, externally completable handle for an asynchronous
// run. It resolves to a *Results value or an error, and carries an optional
// abort capability installed by whoever constructed it.
//
// A Future completes exactly once; later completions are ignored.
type Future[V any] struct {
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	result  *Results[V]
	err     error
	abortFn func()
}

// NewFuture returns an unresolved future. abortFn may be nil, in which case
// Abort returns ErrAbortNotImplemented.
func NewFuture[V any](abortFn func()) *Future[V] {
	return &Future[V]{done: make(chan struct{}), abortFn: abortFn}
}

// Await blocks until the future completes or ctx is done.
// On completion it returns the run's results or its terminal error.
func (f *Future[V]) Await(ctx context.Context) (*Results[V], error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the future completes. It composes with
// select without consuming the result.
func (f *Future[V]) Done() <-chan struct{} { return f.done }

// Abort invokes the installed abort function. Abort is advisory: the run
// marks itself aborted, already-running callbacks finish, and the future
// still completes normally. Returns ErrAbortNotImplemented when the future
// was constructed without an abort function.
func (f *Future[V]) Abort() error {
	f.mu.Lock()
	fn := f.abortFn
	f.mu.Unlock()
	if fn == nil {
		return ErrAbortNotImplemented
	}
	fn()
	return nil
}

// complete resolves the future. Only the first call has effect.
func (f *Future[V]) complete(result *Results[V], err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.result = result
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}
