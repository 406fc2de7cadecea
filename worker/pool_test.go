package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"

	"github.com/questionpy-org/questionpy-server/errdefs"
)

func TestPoolBoundsParallelism(t *testing.T) {
	pool := NewPool(NewInProcessFactory(), 2, 1<<30)

	var active, maxActive atomic.Int64
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.With(context.Background(), functionLocation("wt_echo"), testLimits(), func(ctx context.Context, w Worker) error {
				n := active.Add(1)
				for {
					old := maxActive.Load()
					if n <= old || maxActive.CompareAndSwap(old, n) {
						break
					}
				}
				<-release
				active.Add(-1)
				return nil
			})
			assert.Check(t, err)
		}()
	}

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if active.Load() == 2 {
			return poll.Success()
		}
		return poll.Continue("want 2 active workers, have %d", active.Load())
	}, poll.WithTimeout(5*time.Second))

	close(release)
	wg.Wait()
	assert.Check(t, maxActive.Load() <= 2, "max parallel workers: %d", maxActive.Load())
	assert.Check(t, is.Equal(pool.Usage().RequestsInProcess, 0))
	assert.Check(t, is.Equal(pool.UsedMemory(), uint64(0)))
}

func TestPoolMemoryGate(t *testing.T) {
	limits := testLimits()
	limits.MaxMemory = 60
	pool := NewPool(NewInProcessFactory(), 8, 100)

	holding := make(chan struct{})
	release := make(chan struct{})
	var second atomic.Bool

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := pool.With(context.Background(), functionLocation("wt_echo"), limits, func(ctx context.Context, w Worker) error {
			close(holding)
			<-release
			return nil
		})
		assert.Check(t, err)
	}()
	<-holding
	assert.Check(t, is.Equal(pool.UsedMemory(), uint64(60)))

	go func() {
		defer wg.Done()
		err := pool.With(context.Background(), functionLocation("wt_echo"), limits, func(ctx context.Context, w Worker) error {
			second.Store(true)
			return nil
		})
		assert.Check(t, err)
	}()

	// The second worker does not fit until the first releases its 60 of 100.
	time.Sleep(100 * time.Millisecond)
	assert.Check(t, !second.Load())

	close(release)
	wg.Wait()
	assert.Check(t, second.Load())
	assert.Check(t, is.Equal(pool.UsedMemory(), uint64(0)))
}

func TestPoolRejectsOversizedReservation(t *testing.T) {
	limits := testLimits()
	limits.MaxMemory = 200
	pool := NewPool(NewInProcessFactory(), 2, 100)

	err := pool.With(context.Background(), functionLocation("wt_echo"), limits, func(ctx context.Context, w Worker) error {
		t.Fatal("worker must never start")
		return nil
	})
	var se *StartError
	assert.Check(t, errors.As(err, &se))
	assert.Check(t, !se.Temporary())
}

func TestPoolQueueTimeout(t *testing.T) {
	pool := NewPool(NewInProcessFactory(), 1, 1<<30)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := pool.With(context.Background(), functionLocation("wt_echo"), testLimits(), func(ctx context.Context, w Worker) error {
			close(started)
			<-release
			return nil
		})
		assert.Check(t, err)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := pool.With(ctx, functionLocation("wt_echo"), testLimits(), func(ctx context.Context, w Worker) error {
		return nil
	})
	assert.Check(t, errdefs.IsQueueTimeout(err), "got %v", err)

	close(release)
	wg.Wait()
}

func TestPoolStartFailureReleasesCapacity(t *testing.T) {
	pool := NewPool(NewInProcessFactory(), 1, 1<<30)

	err := pool.With(context.Background(), functionLocation("wt_missing"), testLimits(), func(ctx context.Context, w Worker) error {
		t.Fatal("worker must never start")
		return nil
	})
	var se *StartError
	assert.Check(t, errors.As(err, &se))

	// Capacity must be back; a healthy request goes straight through.
	err = pool.With(context.Background(), functionLocation("wt_echo"), testLimits(), func(ctx context.Context, w Worker) error {
		return nil
	})
	assert.Check(t, err)
	assert.Check(t, is.Equal(pool.UsedMemory(), uint64(0)))
}
