// Package buffer provides a size-bounded FIFO queue with asynchronous push
// and pop, drain-on-quit semantics, and iteration as a consumer, plus a
// polling variant fed by a pool of fetch-capable runners.
package buffer

import (
	"context"
	"sync"

	"github.com/eapache/queue"

	"github.com/ygrebnov/parallel/internal/signal"
)

// Buffer is a bounded FIFO. Push suspends while the buffer is full, Pop
// while it is empty. After Quit is initiated, Push fails synchronously,
// remaining items keep draining, and a drained buffer answers every Pop
// with ok=false.
//
// All methods are safe for concurrent use.
type Buffer[T any] struct {
	cfg config

	mu      sync.Mutex
	items   *queue.Queue
	running bool

	notFull  *signal.Broadcast
	notEmpty *signal.Broadcast
	drained  *signal.Broadcast
}

// New constructs a buffer. The default capacity is 100; override with
// WithMaxSize. Invalid options panic, as a buffer with a broken bound is
// unusable.
func New[T any](opts ...Option) *Buffer[T] {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			panic(err)
		}
	}
	return &Buffer[T]{
		cfg:      cfg,
		items:    queue.New(),
		running:  true,
		notFull:  signal.New(),
		notEmpty: signal.New(),
		drained:  signal.New(),
	}
}

// Push appends v, suspending while the buffer is at capacity. It fails with
// ErrClosed once Quit was initiated, and with ctx.Err() when ctx ends the
// wait.
func (b *Buffer[T]) Push(ctx context.Context, v T) error {
	b.mu.Lock()
	for {
		if !b.running {
			b.mu.Unlock()
			return ErrClosed
		}
		if b.items.Length() < b.cfg.MaxSize {
			break
		}
		ch := b.notFull.Wait()
		b.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mu.Lock()
	}
	b.items.Add(v)
	b.mu.Unlock()

	b.notEmpty.Signal()
	if b.cfg.OnPush != nil {
		b.cfg.OnPush()
	}
	return nil
}

// Pop removes and returns the oldest item, suspending while the buffer is
// empty and running. Once the buffer is quit and drained, Pop returns
// ok=false; while quitting but not yet drained it keeps yielding values.
func (b *Buffer[T]) Pop(ctx context.Context) (T, bool, error) {
	var zero T
	b.mu.Lock()
	for b.items.Length() == 0 {
		if !b.running {
			b.mu.Unlock()
			return zero, false, nil
		}
		ch := b.notEmpty.Wait()
		b.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
		b.mu.Lock()
	}
	v := b.items.Remove().(T)
	nowEmpty := b.items.Length() == 0
	stopped := !b.running
	b.mu.Unlock()

	b.notFull.Signal()
	if nowEmpty && stopped {
		b.drained.Signal()
		// wake remaining pop waiters so they observe the terminal state
		b.notEmpty.Signal()
	}
	if b.cfg.OnPop != nil {
		b.cfg.OnPop()
	}
	return v, true, nil
}

// Next is Pop under the pull-iterator contract, so a Buffer can be passed
// to parallel.FromIterator directly.
func (b *Buffer[T]) Next(ctx context.Context) (T, bool, error) {
	return b.Pop(ctx)
}

// Quit stops intake and blocks until the buffer is drained. Pending and
// future pushes fail with ErrClosed; pop waiters are woken and observe the
// terminal state once no items remain. Quit is idempotent.
func (b *Buffer[T]) Quit(ctx context.Context) error {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()

	// wake push waiters (they fail) and pop waiters on an empty buffer
	// (they observe the terminal state)
	b.notFull.Signal()
	b.notEmpty.Signal()

	b.mu.Lock()
	for b.items.Length() > 0 {
		ch := b.drained.Wait()
		b.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mu.Lock()
	}
	b.mu.Unlock()
	return nil
}

// Len returns the number of buffered items, in [0, MaxSize].
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.Length()
}

// MaxSize returns the configured capacity.
func (b *Buffer[T]) MaxSize() int { return b.cfg.MaxSize }

// waitNotFull blocks until the buffer has room, it stops running, or ctx is
// done. Used by the polling driver for backpressure before claiming a
// fetcher.
func (b *Buffer[T]) waitNotFull(ctx context.Context) error {
	b.mu.Lock()
	for b.running && b.items.Length() >= b.cfg.MaxSize {
		ch := b.notFull.Wait()
		b.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mu.Lock()
	}
	b.mu.Unlock()
	return nil
}
