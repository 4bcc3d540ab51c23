// Package pool provides an elastic pool of reusable runner instances with
// claim/release semantics and usage-based auto-scaling.
//
// A Runner is a caller-supplied worker object; the pool owns its lifetime
// between factory creation and Quit. Claims are exclusive: at most one
// holder per runner at a time. Pending claims are satisfied in FIFO order.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/ygrebnov/parallel/internal/signal"
	"github.com/ygrebnov/parallel/metrics"
)

// Runner is the minimal capability a pooled instance must offer. Quit is
// called exactly once, on scale-down or pool shutdown.
//
// Runner values are located by interface equality on Release and KillRunner;
// use pointer types (or otherwise comparable ones).
type Runner interface {
	Quit(ctx context.Context) error
}

// Factory creates a runner on scale-up. A factory error is reported to the
// error callback and the pool does not grow.
type Factory[R Runner] func(ctx context.Context) (R, error)

// wrapper tracks one pooled instance. claimedAt is zero while unclaimed.
// quitting marks the wrapper terminal: it is skipped by claims, emits no
// available notification on release, and is removed by the next scale-down.
type wrapper[R Runner] struct {
	runner    R
	claimedAt time.Time
	quitting  bool
}

func (w *wrapper[R]) claimed() bool { return !w.claimedAt.IsZero() }

// claimWaiter is one pending Claim. The channel is buffered so hand-off
// never blocks the pool lock; cancelled waiters are skipped at hand-off.
type claimWaiter[R Runner] struct {
	ch        chan *wrapper[R]
	cancelled bool
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Instances     int
	Claimed       int
	PendingClaims int
	Created       int64 // runners created over the pool's lifetime
	Destroyed     int64 // runners quit over the pool's lifetime
	Claims        int64
	Releases      int64
}

// Pool owns a dynamic list of runner instances. All methods are safe for
// concurrent use.
type Pool[R Runner] struct {
	ctx     context.Context
	factory Factory[R]
	cfg     config

	mu       sync.Mutex
	wrappers []*wrapper[R]
	pending  *queue.Queue // of *claimWaiter[R], strict FIFO
	scaling  bool
	quitting bool
	usageAcc time.Duration
	created  int64
	quit     int64
	claims   int64
	releases int64

	released  *signal.Broadcast
	scaleDone *signal.Broadcast

	tickStop chan struct{}
	tickWG   sync.WaitGroup

	mUtilization metrics.Histogram
	mScaleUps    metrics.Counter
	mScaleDowns  metrics.Counter
	mClaimed     metrics.UpDownCounter
}

// New constructs a pool and synchronously converges it to MinInstances.
// When auto-scaling is enabled (the default) a ticker goroutine evaluates
// the scaling policy every ScaleInterval until Quit.
func New[R Runner](ctx context.Context, factory Factory[R], opts ...Option) (*Pool[R], error) {
	if factory == nil {
		return nil, ErrInvalidConfig
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	p := &Pool[R]{
		ctx:       ctx,
		factory:   factory,
		cfg:       cfg,
		pending:   queue.New(),
		released:  signal.New(),
		scaleDone: signal.New(),

		mUtilization: cfg.Metrics.Histogram("pool_utilization",
			metrics.WithDescription("fraction of the tick window instances were claimed")),
		mScaleUps: cfg.Metrics.Counter("pool_scale_ups_total",
			metrics.WithDescription("instances created by scaling")),
		mScaleDowns: cfg.Metrics.Counter("pool_scale_downs_total",
			metrics.WithDescription("instances destroyed by scaling")),
		mClaimed: cfg.Metrics.UpDownCounter("pool_claimed",
			metrics.WithDescription("currently claimed instances")),
	}

	// Startup convergence to the minimum happens regardless of AutoScale.
	p.convergeToMin(ctx)

	if cfg.AutoScale {
		p.tickStop = make(chan struct{})
		p.tickWG.Add(1)
		go p.runTicker()
	}
	return p, nil
}

// Claim reserves an available instance, waiting in FIFO order behind earlier
// claimers when none is free. A claim miss below MaxInstances triggers a
// responsive scale-up when enabled. Fails with ErrClosed after Quit.
func (p *Pool[R]) Claim(ctx context.Context) (R, error) {
	var zero R

	p.mu.Lock()
	if p.quitting {
		p.mu.Unlock()
		return zero, ErrClosed
	}
	if w := p.unclaimedLocked(); w != nil {
		p.claimLocked(w)
		p.mu.Unlock()
		return w.runner, nil
	}

	cw := &claimWaiter[R]{ch: make(chan *wrapper[R], 1)}
	p.pending.Add(cw)
	responsive := p.cfg.ResponsiveScale && p.cfg.AutoScale && len(p.wrappers) < p.cfg.MaxInstances
	p.mu.Unlock()

	if responsive {
		go func() { _ = p.ScaleUp(p.ctx) }()
	}

	select {
	case w, ok := <-cw.ch:
		if !ok {
			return zero, ErrClosed
		}
		return w.runner, nil
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case w, ok := <-cw.ch:
			// Delivered concurrently with cancellation: hand it back.
			available := false
			if ok {
				available = p.releaseWrapperLocked(w)
			}
			p.mu.Unlock()
			p.released.Signal()
			if available {
				p.notifyAvailable()
			}
		default:
			cw.cancelled = true
			p.mu.Unlock()
		}
		return zero, ctx.Err()
	}
}

// Release returns a claimed instance to the pool. Releasing a runner the
// pool does not own is fatal to the caller (ErrUnknownRunner); releasing an
// unclaimed runner is reported to the error callback and returned.
func (p *Pool[R]) Release(r R) error {
	p.mu.Lock()
	w := p.findLocked(r)
	if w == nil {
		p.mu.Unlock()
		return ErrUnknownRunner
	}
	if !w.claimed() {
		p.mu.Unlock()
		p.notifyError(ErrNotClaimed)
		return ErrNotClaimed
	}

	available := p.releaseWrapperLocked(w)
	p.mu.Unlock()

	p.released.Signal()
	p.notifyReleased()
	if available {
		p.notifyAvailable()
	}
	return nil
}

// releaseWrapperLocked accumulates the claimed duration, clears the claim,
// and hands the wrapper to the oldest pending waiter. It reports whether the
// wrapper ended up available for future claims (no waiter took it and it is
// not terminal).
func (p *Pool[R]) releaseWrapperLocked(w *wrapper[R]) bool {
	p.usageAcc += time.Since(w.claimedAt)
	w.claimedAt = time.Time{}
	p.releases++
	p.mClaimed.Add(-1)

	if p.quitting || w.quitting {
		return false
	}
	return !p.handOffLocked(w)
}

// handOffLocked delivers w to the oldest live pending waiter, marking it
// claimed. Returns false when no waiter consumed it.
func (p *Pool[R]) handOffLocked(w *wrapper[R]) bool {
	for p.pending.Length() > 0 {
		cw := p.pending.Remove().(*claimWaiter[R])
		if cw.cancelled {
			continue
		}
		p.claimLocked(w)
		cw.ch <- w
		return true
	}
	return false
}

func (p *Pool[R]) claimLocked(w *wrapper[R]) {
	w.claimedAt = time.Now()
	p.claims++
	p.mClaimed.Add(1)
}

// unclaimedLocked returns the first claimable wrapper, or nil.
func (p *Pool[R]) unclaimedLocked() *wrapper[R] {
	for _, w := range p.wrappers {
		if !w.claimed() && !w.quitting {
			return w
		}
	}
	return nil
}

// findLocked locates the wrapper owning r by interface equality.
func (p *Pool[R]) findLocked(r R) *wrapper[R] {
	for _, w := range p.wrappers {
		if any(w.runner) == any(r) {
			return w
		}
	}
	return nil
}

// Do claims an instance, applies fn, and releases on all exit paths,
// surfacing fn's error.
func (p *Pool[R]) Do(ctx context.Context, fn func(ctx context.Context, r R) error) error {
	r, err := p.Claim(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Release(r) }()
	return fn(ctx, r)
}

// Run claims an instance from p, applies fn, and releases on all exit
// paths, surfacing fn's result or error. It is a package function because
// Go methods cannot introduce type parameters.
func Run[R Runner, V any](ctx context.Context, p *Pool[R], fn func(ctx context.Context, r R) (V, error)) (V, error) {
	var out V
	err := p.Do(ctx, func(c context.Context, r R) error {
		v, ferr := fn(c, r)
		if ferr != nil {
			return ferr
		}
		out = v
		return nil
	})
	return out, err
}

// KillRunner marks an instance terminal, preferring the given one, else an
// unclaimed one, else the first non-terminal one. It returns the chosen
// runner, or ok=false when removing one would drop the live count below
// MinInstances. The terminal wrapper is removed by the next scale-down.
func (p *Pool[R]) KillRunner(prefer ...R) (R, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero R
	w := p.killRunnerLocked(prefer...)
	if w == nil {
		return zero, false
	}
	return w.runner, true
}

func (p *Pool[R]) killRunnerLocked(prefer ...R) *wrapper[R] {
	alive := 0
	for _, w := range p.wrappers {
		if !w.quitting {
			alive++
		}
	}
	if alive <= p.cfg.MinInstances {
		return nil
	}

	if len(prefer) > 0 {
		if w := p.findLocked(prefer[0]); w != nil && !w.quitting {
			w.quitting = true
			return w
		}
	}
	for _, w := range p.wrappers {
		if !w.quitting && !w.claimed() {
			w.quitting = true
			return w
		}
	}
	for _, w := range p.wrappers {
		if !w.quitting {
			w.quitting = true
			return w
		}
	}
	return nil
}

// removeLocked drops w from the instance list.
func (p *Pool[R]) removeLocked(w *wrapper[R]) {
	for i, cand := range p.wrappers {
		if cand == w {
			p.wrappers = append(p.wrappers[:i], p.wrappers[i+1:]...)
			return
		}
	}
}

// Quit shuts the pool down: it stops the ticker, fails pending claimers,
// awaits any in-flight scaling, then removes and quits every instance,
// waiting on releases while all remaining ones are claimed. Quit is
// idempotent; later calls return immediately.
func (p *Pool[R]) Quit(ctx context.Context) error {
	p.mu.Lock()
	if p.quitting {
		p.mu.Unlock()
		return nil
	}
	p.quitting = true
	for p.pending.Length() > 0 {
		cw := p.pending.Remove().(*claimWaiter[R])
		if !cw.cancelled {
			close(cw.ch)
		}
	}
	p.mu.Unlock()

	if p.tickStop != nil {
		close(p.tickStop)
	}
	p.tickWG.Wait()

	p.mu.Lock()
	for p.scaling {
		ch := p.scaleDone.Wait()
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.mu.Lock()
	}

	for len(p.wrappers) > 0 {
		var unclaimed []*wrapper[R]
		remaining := p.wrappers[:0]
		for _, w := range p.wrappers {
			if w.claimed() {
				remaining = append(remaining, w)
			} else {
				unclaimed = append(unclaimed, w)
			}
		}
		p.wrappers = remaining

		if len(unclaimed) == 0 {
			ch := p.released.Wait()
			p.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			p.mu.Lock()
			continue
		}

		p.quit += int64(len(unclaimed))
		p.mu.Unlock()
		for _, w := range unclaimed {
			p.quitRunner(ctx, w.runner)
		}
		p.mu.Lock()
	}
	p.mu.Unlock()
	return nil
}

// quitRunner calls the runner's Quit, reporting failures to the error
// callback. Shutdown proceeds regardless.
func (p *Pool[R]) quitRunner(ctx context.Context, r R) {
	defer func() {
		if rec := recover(); rec != nil {
			p.notifyError(fmt.Errorf("%w: panic: %v", ErrRunnerQuit, rec))
		}
	}()
	if err := r.Quit(ctx); err != nil {
		p.notifyError(fmt.Errorf("%w: %w", ErrRunnerQuit, err))
	}
}

// Accessors.

func (p *Pool[R]) InstanceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.wrappers)
}

func (p *Pool[R]) ClaimedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.claimedCountLocked()
}

func (p *Pool[R]) claimedCountLocked() int {
	n := 0
	for _, w := range p.wrappers {
		if w.claimed() {
			n++
		}
	}
	return n
}

func (p *Pool[R]) PendingClaimCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := 0; i < p.pending.Length(); i++ {
		if !p.pending.Get(i).(*claimWaiter[R]).cancelled {
			n++
		}
	}
	return n
}

func (p *Pool[R]) IsScaling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scaling
}

func (p *Pool[R]) MinInstances() int { return p.cfg.MinInstances }
func (p *Pool[R]) MaxInstances() int { return p.cfg.MaxInstances }

// Stats returns a snapshot of pool activity.
func (p *Pool[R]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending := 0
	for i := 0; i < p.pending.Length(); i++ {
		if !p.pending.Get(i).(*claimWaiter[R]).cancelled {
			pending++
		}
	}
	return Stats{
		Instances:     len(p.wrappers),
		Claimed:       p.claimedCountLocked(),
		PendingClaims: pending,
		Created:       p.created,
		Destroyed:     p.quit,
		Claims:        p.claims,
		Releases:      p.releases,
	}
}

// Notification helpers; all fire outside the pool lock.

func (p *Pool[R]) notifyAvailable() {
	if p.cfg.OnAvailable != nil {
		p.cfg.OnAvailable()
	}
}

func (p *Pool[R]) notifyReleased() {
	if p.cfg.OnReleased != nil {
		p.cfg.OnReleased()
	}
}

func (p *Pool[R]) notifyScale(instances int) {
	if p.cfg.OnScale != nil {
		p.cfg.OnScale(instances)
	}
}

func (p *Pool[R]) notifyUsage(usage float64) {
	if p.cfg.OnUsage != nil {
		p.cfg.OnUsage(usage)
	}
}

func (p *Pool[R]) notifyError(err error) {
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
}
