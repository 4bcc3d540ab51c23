package buffer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ygrebnov/parallel/pool"
)

// Fetcher is a pooled runner that can poll a remote source for a batch of
// items. The return value distinguishes three outcomes:
//   - nil slice: poll timeout, nothing arrived;
//   - empty non-nil slice: the source answered with an empty batch;
//   - non-empty slice: a batch of items.
//
// Timeouts and empty batches both feed the scale-down path; the distinction
// is kept so an empty batch still counts as a clean exchange.
type Fetcher[T any] interface {
	pool.Runner
	Fetch(ctx context.Context) ([]T, error)
}

// Polling is a Buffer fed by a pool of Fetchers. Available fetchers are
// driven to fetch; batches are pushed into the buffer under backpressure;
// fetchers that keep coming back empty are reaped and sustained success
// grows the pool. The pool is configured without timer-driven scaling:
// poll outcomes are the only scaling signal.
//
// Consume with Pop or Next; Polling satisfies the pull-iterator contract so
// it can be passed to parallel.FromIterator.
type Polling[T any] struct {
	cfg pollingConfig

	ctx        context.Context
	pollCancel context.CancelFunc
	pollCtx    context.Context

	buf  *Buffer[T]
	pool *pool.Pool[Fetcher[T]]

	running atomic.Bool
	pollWG  sync.WaitGroup

	// ready gates poll tasks until construction finished: the pool fires
	// available synchronously while converging to its minimum, before the
	// Polling struct holds it.
	ready chan struct{}

	mu        sync.Mutex
	successes int
}

// NewPolling constructs the composed buffer and pool and starts polling.
// The pool converges to its minimum immediately; each instance that becomes
// available triggers a poll.
func NewPolling[T any](ctx context.Context, factory func(ctx context.Context) (Fetcher[T], error), opts ...PollingOption) (*Polling[T], error) {
	cfg := defaultPollingConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	p := &Polling[T]{cfg: cfg, ctx: ctx, ready: make(chan struct{})}
	p.pollCtx, p.pollCancel = context.WithCancel(ctx)
	p.buf = New[T](WithMaxSize(cfg.MaxSize))
	p.running.Store(true)

	poolOpts := []pool.Option{
		pool.WithMinInstances(cfg.MinInstances),
		pool.WithMaxInstances(cfg.MaxInstances),
		pool.WithoutAutoScale(),
		pool.WithoutResponsiveScale(),
		pool.WithOnAvailable(p.handleAvailable),
		pool.WithMetrics(cfg.Metrics),
	}
	if cfg.OnScale != nil {
		poolOpts = append(poolOpts, pool.WithOnScale(cfg.OnScale))
	}
	if cfg.OnError != nil {
		poolOpts = append(poolOpts, pool.WithOnError(cfg.OnError))
	}

	pl, err := pool.New[Fetcher[T]](ctx, pool.Factory[Fetcher[T]](factory), poolOpts...)
	if err != nil {
		p.pollCancel()
		close(p.ready)
		return nil, err
	}
	p.pool = pl
	close(p.ready)
	return p, nil
}

// Pop removes and returns the oldest buffered item; see Buffer.Pop.
func (p *Polling[T]) Pop(ctx context.Context) (T, bool, error) { return p.buf.Pop(ctx) }

// Next is Pop under the pull-iterator contract.
func (p *Polling[T]) Next(ctx context.Context) (T, bool, error) { return p.buf.Pop(ctx) }

// Len returns the number of buffered items.
func (p *Polling[T]) Len() int { return p.buf.Len() }

// InstanceCount returns the current fetcher count.
func (p *Polling[T]) InstanceCount() int { return p.pool.InstanceCount() }

// handleAvailable launches one poll task per available fetcher.
func (p *Polling[T]) handleAvailable() {
	if !p.running.Load() {
		return
	}
	p.pollWG.Add(1)
	go func() {
		defer p.pollWG.Done()
		p.poll()
	}()
}

// poll performs one fetch cycle: wait for buffer room, claim a fetcher,
// fetch, then push or reap depending on the outcome. Pushing happens after
// the fetcher is released so pool shutdown is never wedged behind a slow
// consumer.
func (p *Polling[T]) poll() {
	<-p.ready

	// Backpressure: do not claim a fetcher the buffer has no room for.
	if err := p.buf.waitNotFull(p.pollCtx); err != nil {
		return
	}
	if !p.running.Load() {
		return
	}

	var (
		batch      []T
		killed     Fetcher[T]
		haveKilled bool
	)
	err := p.pool.Do(p.ctx, func(ctx context.Context, f Fetcher[T]) error {
		b, ferr := f.Fetch(ctx)
		if ferr != nil {
			return ferr
		}
		batch = b
		if len(b) == 0 {
			// Timeout or empty batch: mark this fetcher for reaping while
			// we still hold it, so the scale-down targets the idle one.
			if !p.pool.IsScaling() {
				killed, haveKilled = p.pool.KillRunner(f)
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, pool.ErrClosed) && !errors.Is(err, context.Canceled) {
			p.notifyError(err)
		}
		return
	}

	if len(batch) == 0 {
		p.mu.Lock()
		p.successes = 0
		p.mu.Unlock()
		if haveKilled {
			if derr := p.pool.ScaleDown(p.ctx, killed); derr != nil && !errors.Is(derr, pool.ErrClosed) {
				p.notifyError(derr)
			}
		}
		return
	}

	for _, v := range batch {
		if perr := p.buf.Push(p.ctx, v); perr != nil {
			if !errors.Is(perr, ErrClosed) && !errors.Is(perr, context.Canceled) {
				p.notifyError(perr)
			}
			return
		}
	}

	p.mu.Lock()
	p.successes++
	grow := p.successes > 2*p.pool.InstanceCount()
	if grow {
		p.successes = 0
	}
	p.mu.Unlock()
	if grow {
		if uerr := p.pool.ScaleUp(p.ctx); uerr != nil && !errors.Is(uerr, pool.ErrClosed) {
			p.notifyError(uerr)
		}
	}
}

// Quit stops polling and shuts the composition down without dropping data:
// pool shutdown starts concurrently, in-flight polls finish pushing what
// they fetched, the buffer drains, and both quits are awaited. Later calls
// only re-run the (idempotent) buffer quit.
func (p *Polling[T]) Quit(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return p.buf.Quit(ctx)
	}
	p.pollCancel()

	var g errgroup.Group
	g.Go(func() error { return p.pool.Quit(ctx) })

	p.pollWG.Wait()
	if err := p.buf.Quit(ctx); err != nil {
		_ = g.Wait()
		return err
	}
	return g.Wait()
}

func (p *Polling[T]) notifyError(err error) {
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
}
