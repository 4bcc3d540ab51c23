package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	id        int
	quitCalls atomic.Int32
}

func (r *fakeRunner) Quit(context.Context) error {
	r.quitCalls.Add(1)
	return nil
}

type fakeFactory struct {
	created atomic.Int32
	fail    atomic.Bool
}

func (f *fakeFactory) new(context.Context) (*fakeRunner, error) {
	if f.fail.Load() {
		return nil, errors.New("factory down")
	}
	n := f.created.Add(1)
	return &fakeRunner{id: int(n)}, nil
}

func newTestPool(t *testing.T, opts ...Option) (*Pool[*fakeRunner], *fakeFactory) {
	t.Helper()
	ff := &fakeFactory{}
	p, err := New[*fakeRunner](context.Background(), ff.new, opts...)
	require.NoError(t, err)
	return p, ff
}

func TestNew_ConvergesToMinimum(t *testing.T) {
	p, ff := newTestPool(t, WithMinInstances(3), WithMaxInstances(8))
	defer func() { require.NoError(t, p.Quit(context.Background())) }()

	require.Equal(t, 3, p.InstanceCount())
	require.Equal(t, int32(3), ff.created.Load())
}

func TestNew_InvalidConfig(t *testing.T) {
	ff := &fakeFactory{}
	_, err := New[*fakeRunner](context.Background(), ff.new, WithMinInstances(5), WithMaxInstances(2))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New[*fakeRunner](context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClaimRelease_Nominal(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t)
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	r, err := p.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, p.ClaimedCount())

	require.NoError(t, p.Release(r))
	require.Equal(t, 0, p.ClaimedCount())
}

func TestRelease_Unknown(t *testing.T) {
	p, _ := newTestPool(t)
	defer func() { require.NoError(t, p.Quit(context.Background())) }()

	err := p.Release(&fakeRunner{id: 999})
	require.ErrorIs(t, err, ErrUnknownRunner)
}

func TestRelease_NotClaimed(t *testing.T) {
	ctx := context.Background()
	var reported []error
	var mu sync.Mutex
	p, _ := newTestPool(t, WithOnError(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	r, err := p.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(r))

	err = p.Release(r)
	require.ErrorIs(t, err, ErrNotClaimed)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	require.ErrorIs(t, reported[0], ErrNotClaimed)
}

func TestDo_ReleasesOnAllPaths(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t)
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	boom := errors.New("boom")
	err := p.Do(ctx, func(context.Context, *fakeRunner) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, p.ClaimedCount())

	require.Panics(t, func() {
		_ = p.Do(ctx, func(context.Context, *fakeRunner) error { panic("bad") })
	})
	require.Equal(t, 0, p.ClaimedCount())
}

func TestRun_SurfacesResult(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t)
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	got, err := Run(ctx, p, func(_ context.Context, r *fakeRunner) (int, error) {
		return r.id * 10, nil
	})
	require.NoError(t, err)
	require.Equal(t, 10, got)
	require.Equal(t, 0, p.ClaimedCount())
}

func TestClaim_ResponsiveScaleOnMiss(t *testing.T) {
	ctx := context.Background()
	p, ff := newTestPool(t, WithMinInstances(1), WithMaxInstances(4))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	claimed := make([]*fakeRunner, 0, 4)
	for i := 0; i < 4; i++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		r, err := p.Claim(cctx)
		cancel()
		require.NoError(t, err)
		claimed = append(claimed, r)
	}
	require.Equal(t, 4, p.InstanceCount())
	require.Equal(t, int32(4), ff.created.Load())

	for _, r := range claimed {
		require.NoError(t, p.Release(r))
	}
}

func TestClaim_PendingFIFO(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(1), WithMaxInstances(1))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	first, err := p.Claim(ctx)
	require.NoError(t, err)

	order := make(chan int, 2)
	var wg sync.WaitGroup
	start := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		close(start)
		r, cerr := p.Claim(ctx)
		require.NoError(t, cerr)
		order <- 1
		require.NoError(t, p.Release(r))
	}()

	<-start
	// make sure the first waiter is enqueued before the second
	require.Eventually(t, func() bool { return p.PendingClaimCount() == 1 },
		time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		r, cerr := p.Claim(ctx)
		require.NoError(t, cerr)
		order <- 2
		require.NoError(t, p.Release(r))
	}()

	require.Eventually(t, func() bool { return p.PendingClaimCount() == 2 },
		time.Second, time.Millisecond)

	require.NoError(t, p.Release(first))
	wg.Wait()

	require.Equal(t, 1, <-order)
	require.Equal(t, 2, <-order)
}

func TestClaim_CancelledWaiterIsSkipped(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(1), WithMaxInstances(1))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	r, err := p.Claim(ctx)
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.Claim(cctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the cancelled waiter must not swallow the released instance
	require.NoError(t, p.Release(r))
	cctx2, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	r2, err := p.Claim(cctx2)
	require.NoError(t, err)
	require.NoError(t, p.Release(r2))
}

func TestScaleUp_SatisfiesPendingClaim(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(1), WithMaxInstances(2), WithoutResponsiveScale())
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	first, err := p.Claim(ctx)
	require.NoError(t, err)

	got := make(chan *fakeRunner, 1)
	go func() {
		r, cerr := p.Claim(ctx)
		if cerr == nil {
			got <- r
		}
	}()

	require.Eventually(t, func() bool { return p.PendingClaimCount() == 1 },
		time.Second, time.Millisecond)

	require.NoError(t, p.ScaleUp(ctx))

	select {
	case r := <-got:
		require.NoError(t, p.Release(r))
	case <-time.After(time.Second):
		t.Fatal("scale-up did not satisfy the pending claim")
	}
	require.NoError(t, p.Release(first))
}

func TestScaleUp_NoOpAtMax(t *testing.T) {
	ctx := context.Background()
	p, ff := newTestPool(t, WithMinInstances(2), WithMaxInstances(2))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	require.NoError(t, p.ScaleUp(ctx))
	require.Equal(t, 2, p.InstanceCount())
	require.Equal(t, int32(2), ff.created.Load())
}

func TestScaleUp_FactoryErrorReported(t *testing.T) {
	ctx := context.Background()
	var reported []error
	var mu sync.Mutex
	p, ff := newTestPool(t, WithMinInstances(1), WithMaxInstances(4), WithOnError(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	ff.fail.Store(true)
	err := p.ScaleUp(ctx)
	require.ErrorIs(t, err, ErrFactory)
	require.Equal(t, 1, p.InstanceCount())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	require.ErrorIs(t, reported[0], ErrFactory)
}

func TestScaleDown_PrefersUnclaimed(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(1), WithMaxInstances(4))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	require.NoError(t, p.ScaleUp(ctx))
	require.Equal(t, 2, p.InstanceCount())

	claimed, err := p.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, p.ScaleDown(ctx))
	require.Equal(t, 1, p.InstanceCount())
	// the claimed one must have survived
	require.NoError(t, p.Release(claimed))
}

func TestScaleDown_WaitsForRelease(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(1), WithMaxInstances(4))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	require.NoError(t, p.ScaleUp(ctx))
	r1, err := p.Claim(ctx)
	require.NoError(t, err)
	r2, err := p.Claim(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.ScaleDown(ctx) }()

	select {
	case <-done:
		t.Fatal("scale-down must wait while every candidate is claimed")
	case <-time.After(50 * time.Millisecond):
	}

	// with every instance claimed the target is the first one (r1)
	require.NoError(t, p.Release(r1))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scale-down did not finish after release")
	}
	require.Equal(t, 1, p.InstanceCount())
	require.NoError(t, p.Release(r2))
}

func TestScaleDown_NoOpAtMinimum(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(2), WithMaxInstances(4))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	require.NoError(t, p.ScaleDown(ctx))
	require.Equal(t, 2, p.InstanceCount())
}

func TestKillRunner(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(1), WithMaxInstances(4))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	require.NoError(t, p.ScaleUp(ctx))

	r, err := p.Claim(ctx)
	require.NoError(t, err)

	killed, ok := p.KillRunner(r)
	require.True(t, ok)
	require.Same(t, r, killed)

	// floor reached: one live instance remains
	_, ok = p.KillRunner()
	require.False(t, ok)

	require.NoError(t, p.Release(r))
	require.NoError(t, p.ScaleDown(ctx, killed))
	require.Equal(t, 1, p.InstanceCount())
}

func TestKilledRunner_NotHandedOut(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(1), WithMaxInstances(4))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	require.NoError(t, p.ScaleUp(ctx))
	require.Equal(t, 2, p.InstanceCount())

	killed, ok := p.KillRunner()
	require.True(t, ok)

	// both instances unclaimed; the terminal one must be skipped
	r1, err := p.Claim(ctx)
	require.NoError(t, err)
	require.NotSame(t, killed, r1)
	require.NoError(t, p.Release(r1))
}

func TestAutoScale_GrowsUnderLoad(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t,
		WithMinInstances(1), WithMaxInstances(3),
		WithScaleInterval(50*time.Millisecond))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	// hold the only instance claimed so utilization stays at ~1.0
	r, err := p.Claim(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.InstanceCount() >= 2 },
		2*time.Second, 10*time.Millisecond, "sustained utilization must grow the pool")

	require.NoError(t, p.Release(r))
}

func TestAutoScale_ShrinksWhenIdle(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t,
		WithMinInstances(1), WithMaxInstances(4),
		WithScaleInterval(50*time.Millisecond))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	require.NoError(t, p.ScaleUp(ctx))
	require.NoError(t, p.ScaleUp(ctx))
	require.Equal(t, 3, p.InstanceCount())

	require.Eventually(t, func() bool { return p.InstanceCount() == 1 },
		3*time.Second, 10*time.Millisecond, "idle pool must converge to minimum")

	st := p.Stats()
	require.Equal(t, int64(3), st.Created)
	require.Equal(t, int64(2), st.Destroyed)
}

func TestAutoScale_FullCycle(t *testing.T) {
	// scenario: min=1 max=4, claim four, release all, converge back to one.
	ctx := context.Background()
	p, ff := newTestPool(t,
		WithMinInstances(1), WithMaxInstances(4),
		WithScaleInterval(50*time.Millisecond))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	claimed := make([]*fakeRunner, 0, 4)
	for i := 0; i < 4; i++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		r, err := p.Claim(cctx)
		cancel()
		require.NoError(t, err)
		claimed = append(claimed, r)
	}
	require.Equal(t, int32(4), ff.created.Load())

	for _, r := range claimed {
		require.NoError(t, p.Release(r))
	}

	require.Eventually(t, func() bool { return p.InstanceCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	st := p.Stats()
	require.Equal(t, int64(4), st.Created)
	require.Equal(t, int64(3), st.Destroyed)
}

func TestWithoutAutoScale_NoPeriodicTickButMinConvergence(t *testing.T) {
	ctx := context.Background()
	p, ff := newTestPool(t,
		WithMinInstances(2), WithMaxInstances(4),
		WithoutAutoScale(),
		WithScaleInterval(20*time.Millisecond))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	// startup convergence happened
	require.Equal(t, 2, p.InstanceCount())

	// hold both claimed well past several would-be ticks: no growth
	r1, err := p.Claim(ctx)
	require.NoError(t, err)
	r2, err := p.Claim(ctx)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 2, p.InstanceCount())
	require.Equal(t, int32(2), ff.created.Load())

	require.NoError(t, p.Release(r1))
	require.NoError(t, p.Release(r2))
}

func TestUsageCallback(t *testing.T) {
	ctx := context.Background()
	usages := make(chan float64, 16)
	p, _ := newTestPool(t,
		WithMinInstances(1), WithMaxInstances(2),
		WithScaleInterval(50*time.Millisecond),
		WithOnUsage(func(u float64) {
			select {
			case usages <- u:
			default:
			}
		}))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	select {
	case u := <-usages:
		require.GreaterOrEqual(t, u, 0.0)
		require.LessOrEqual(t, u, 1.0)
	case <-time.After(time.Second):
		t.Fatal("no usage notification emitted")
	}
}

func TestQuit_DrainsAndCloses(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(2), WithMaxInstances(4))

	r, err := p.Claim(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Quit(ctx) }()

	select {
	case <-done:
		t.Fatal("quit must wait for claimed instances")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(r))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("quit did not finish after release")
	}

	require.Equal(t, 0, p.InstanceCount())
	require.Equal(t, int32(1), r.quitCalls.Load())

	_, err = p.Claim(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestQuit_Idempotent(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t)
	require.NoError(t, p.Quit(ctx))
	require.NoError(t, p.Quit(ctx))
	require.Equal(t, 0, p.InstanceCount())
}

func TestQuit_FailsPendingClaims(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(1), WithMaxInstances(1), WithoutResponsiveScale())

	r, err := p.Claim(ctx)
	require.NoError(t, err)

	claimErr := make(chan error, 1)
	go func() {
		_, cerr := p.Claim(ctx)
		claimErr <- cerr
	}()
	require.Eventually(t, func() bool { return p.PendingClaimCount() == 1 },
		time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- p.Quit(ctx) }()

	select {
	case cerr := <-claimErr:
		require.ErrorIs(t, cerr, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("pending claim was not failed by quit")
	}

	require.NoError(t, p.Release(r))
	require.NoError(t, <-done)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t, WithMinInstances(1), WithMaxInstances(2))
	defer func() { require.NoError(t, p.Quit(ctx)) }()

	r, err := p.Claim(ctx)
	require.NoError(t, err)
	st := p.Stats()
	require.Equal(t, 1, st.Instances)
	require.Equal(t, 1, st.Claimed)
	require.Equal(t, int64(1), st.Claims)

	require.NoError(t, p.Release(r))
	st = p.Stats()
	require.Equal(t, 0, st.Claimed)
	require.Equal(t, int64(1), st.Releases)
}
