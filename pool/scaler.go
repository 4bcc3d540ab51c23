package pool

import (
	"context"
	"fmt"
	"time"
)

// ScaleUp grows the pool by one instance. Serialized with any in-flight
// scaling operation; a no-op at MaxInstances. A factory failure is reported
// to the error callback and returned; the pool does not grow. The scale
// notification fires after every factory call, successful or not; the no-op
// returns (at MaxInstances, after Quit, or when ctx ends the wait) fire none.
func (p *Pool[R]) ScaleUp(ctx context.Context) error {
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
	if p.quitting {
		p.mu.Unlock()
		return ErrClosed
	}
	if len(p.wrappers) >= p.cfg.MaxInstances {
		p.mu.Unlock()
		return nil
	}
	p.scaling = true
	p.mu.Unlock()

	r, err := p.callFactory(ctx)

	p.mu.Lock()
	if err != nil {
		p.scaling = false
		n := len(p.wrappers)
		p.mu.Unlock()
		p.scaleDone.Signal()
		wrapped := fmt.Errorf("%w: %w", ErrFactory, err)
		p.notifyError(wrapped)
		p.notifyScale(n)
		return wrapped
	}

	w := &wrapper[R]{runner: r}
	p.wrappers = append(p.wrappers, w)
	p.created++
	delivered := p.handOffLocked(w)
	p.scaling = false
	n := len(p.wrappers)
	p.mu.Unlock()

	p.scaleDone.Signal()
	p.mScaleUps.Add(1)
	if !delivered {
		p.notifyAvailable()
	}
	p.notifyScale(n)
	return nil
}

func (p *Pool[R]) callFactory(ctx context.Context) (r R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("factory panicked: %v", rec)
		}
	}()
	return p.factory(ctx)
}

// ScaleDown shrinks the pool by one instance, preferring the given one,
// else an unclaimed one. Serialized with any in-flight scaling operation; a
// no-op when removing an instance would drop the live count below
// MinInstances (unless the preferred instance was already marked terminal
// via KillRunner). Without a preferred instance, a wrapper already marked
// terminal via KillRunner is removed first. When the chosen instance is
// claimed, ScaleDown waits for its release.
func (p *Pool[R]) ScaleDown(ctx context.Context, prefer ...R) error {
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
	if p.quitting {
		p.mu.Unlock()
		return ErrClosed
	}

	// An instance already marked terminal (KillRunner) is always a valid
	// target: the floor was checked when it was killed.
	var w *wrapper[R]
	if len(prefer) > 0 {
		if cand := p.findLocked(prefer[0]); cand != nil && cand.quitting {
			w = cand
		}
	}
	if w == nil && len(prefer) == 0 {
		for _, cand := range p.wrappers {
			if cand.quitting {
				w = cand
				break
			}
		}
	}
	if w == nil {
		w = p.killRunnerLocked(prefer...)
	}
	if w == nil {
		p.mu.Unlock()
		return nil
	}
	p.scaling = true

	for w.claimed() {
		ch := p.released.Wait()
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			p.mu.Lock()
			p.scaling = false
			p.mu.Unlock()
			p.scaleDone.Signal()
			return ctx.Err()
		}
		p.mu.Lock()
	}

	p.removeLocked(w)
	p.quit++
	p.mu.Unlock()

	p.quitRunner(ctx, w.runner)

	p.mu.Lock()
	p.scaling = false
	n := len(p.wrappers)
	p.mu.Unlock()

	p.scaleDone.Signal()
	p.mScaleDowns.Add(1)
	p.notifyScale(n)
	return nil
}

// convergeToMin grows the pool until it holds MinInstances. A factory error
// stops the pass; with auto-scaling enabled the next tick retries.
func (p *Pool[R]) convergeToMin(ctx context.Context) {
	for {
		p.mu.Lock()
		need := len(p.wrappers) < p.cfg.MinInstances && !p.quitting
		p.mu.Unlock()
		if !need {
			return
		}
		if err := p.ScaleUp(ctx); err != nil {
			return
		}
	}
}

// runTicker evaluates the scaling policy every ScaleInterval until Quit.
func (p *Pool[R]) runTicker() {
	defer p.tickWG.Done()
	t := time.NewTicker(p.cfg.ScaleInterval)
	defer t.Stop()
	for {
		select {
		case <-p.tickStop:
			return
		case <-t.C:
			p.tick()
		}
	}
}

// tick computes the window utilization and applies the scaling policy:
// converge below the minimum (re-ticking immediately), grow above the up
// threshold, shrink below the down threshold. Skipped while another scaling
// operation is in flight.
func (p *Pool[R]) tick() {
	p.mu.Lock()
	now := time.Now()
	acc := p.usageAcc
	p.usageAcc = 0
	for _, w := range p.wrappers {
		if w.claimed() {
			acc += now.Sub(w.claimedAt)
			w.claimedAt = now
		}
	}
	n := len(p.wrappers)
	usage := 0.0
	if n > 0 {
		usage = float64(acc) / (float64(p.cfg.ScaleInterval) * float64(n))
	}
	busy := p.scaling || p.quitting
	p.mu.Unlock()

	p.mUtilization.Record(usage)
	p.notifyUsage(usage)

	if busy {
		return
	}
	switch {
	case n < p.cfg.MinInstances:
		if err := p.ScaleUp(p.ctx); err == nil {
			p.tick()
		}
	case usage > p.cfg.ScaleUpAt && n < p.cfg.MaxInstances:
		_ = p.ScaleUp(p.ctx)
	case usage < p.cfg.ScaleDownAt && n > p.cfg.MinInstances:
		_ = p.ScaleDown(p.ctx)
	}
}
