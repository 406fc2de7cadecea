package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/errdefs"
	"github.com/questionpy-org/questionpy-server/packages"
)

const (
	stopGrace = 10 * time.Second

	// Transient start failures (a spawn hitting a momentary OOM) are
	// retried inside the pool; anything permanent surfaces immediately.
	startRetries = 2
)

// Pool bounds how many workers run at once and how much memory their limits
// may reserve in sum. Workers are strictly per call: With constructs one,
// runs fn against it and stops it.
type Pool struct {
	factory   Factory
	maxMemory uint64
	sem       *semaphore.Weighted

	mu         sync.Mutex
	cond       *sync.Cond
	usedMemory uint64

	inProcess atomic.Int64
	inQueue   atomic.Int64
}

// NewPool builds a pool of at most maxWorkers concurrent workers reserving
// at most maxMemory bytes in sum.
func NewPool(factory Factory, maxWorkers int, maxMemory uint64) *Pool {
	p := &Pool{
		factory:   factory,
		maxMemory: maxMemory,
		sem:       semaphore.NewWeighted(int64(maxWorkers)),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Usage reports how many requests hold a worker and how many are waiting
// for one.
func (p *Pool) Usage() types.ServerUsage {
	return types.ServerUsage{
		RequestsInProcess: int(p.inProcess.Load()),
		RequestsInQueue:   int(p.inQueue.Load()),
	}
}

// With acquires capacity, starts a worker for the package and yields it to
// fn. The worker is stopped and the reservation returned on the way out,
// whatever fn does.
func (p *Pool) With(ctx context.Context, location packages.Location, limits types.WorkerResourceLimits, fn func(ctx context.Context, w Worker) error) error {
	reserve := limits.MaxMemory
	if reserve > p.maxMemory {
		return newStartError(errors.Errorf(
			"worker wants %d bytes but the pool holds only %d", reserve, p.maxMemory), false)
	}

	p.inQueue.Add(1)
	err := p.sem.Acquire(ctx, 1)
	if err != nil {
		p.inQueue.Add(-1)
		return errdefs.QueueTimeout(errors.Wrap(err, "waiting for a worker slot"))
	}
	defer p.sem.Release(1)

	if err := p.reserveMemory(ctx, reserve); err != nil {
		p.inQueue.Add(-1)
		return err
	}
	defer p.releaseMemory(reserve)

	p.inQueue.Add(-1)
	p.inProcess.Add(1)
	defer p.inProcess.Add(-1)
	poolGauges.update(p)

	var lastErr error
	for attempt := 0; attempt <= startRetries; attempt++ {
		w := p.factory(location, limits)
		lastErr = w.Start(ctx)
		if lastErr == nil {
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace+time.Second)
				defer cancel()
				if err := w.Stop(stopCtx, stopGrace); err != nil {
					log.G(ctx).WithError(err).Warn("stopping worker failed")
				}
				poolGauges.update(p)
			}()
			return fn(ctx, w)
		}
		var se *StartError
		if !errors.As(lastErr, &se) || !se.Temporary() {
			break
		}
		log.G(ctx).WithError(lastErr).WithField("attempt", attempt+1).Info("retrying transient worker start failure")
	}
	return lastErr
}

// reserveMemory waits until the reservation fits under the pool limit. A
// context watcher wakes the wait up so cancelled requests leave the queue.
func (p *Pool) reserveMemory(ctx context.Context, reserve uint64) error {
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			// Taking the lock orders the wake-up after the waiter either
			// entered Wait or re-checked ctx.Err, so it cannot be lost.
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-watcherDone:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.usedMemory+reserve > p.maxMemory {
		if err := ctx.Err(); err != nil {
			return errdefs.QueueTimeout(errors.Wrap(err, "waiting for pool memory"))
		}
		p.cond.Wait()
	}
	p.usedMemory += reserve
	return nil
}

func (p *Pool) releaseMemory(reserve uint64) {
	p.mu.Lock()
	p.usedMemory -= reserve
	p.mu.Unlock()
	p.cond.Broadcast()
}

// UsedMemory returns the currently reserved bytes.
func (p *Pool) UsedMemory() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usedMemory
}
