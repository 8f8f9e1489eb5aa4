package taskqueue

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestPoolRunsSubmittedTask(t *testing.T) {
	p := New(2, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	done := make(chan struct{})
	p.Submit(&Task{
		Name: "noop",
		Run: func(ctx context.Context) Result {
			close(done)
			return Done(nil)
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestPoolSerializesSameAffinityKey(t *testing.T) {
	p := New(4, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var running atomic.Int32
	var maxConcurrent atomic.Int32
	var completed atomic.Int32

	for i := 0; i < 6; i++ {
		p.Submit(&Task{
			Name:        "node-task",
			AffinityKey: "nodeA",
			Run: func(ctx context.Context) Result {
				n := running.Add(1)
				for {
					cur := maxConcurrent.Load()
					if n <= cur || maxConcurrent.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				completed.Add(1)
				return Done(nil)
			},
		})
	}

	require.Eventually(t, func() bool {
		return completed.Load() == 6
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestPoolAllowsParallelizableAffinityTasks(t *testing.T) {
	p := New(4, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	release := make(chan struct{})
	var started atomic.Int32

	for i := 0; i < 3; i++ {
		p.Submit(&Task{
			Name:           "parallel-pull",
			AffinityKey:    "nodeB",
			Parallelizable: true,
			Run: func(ctx context.Context) Result {
				started.Add(1)
				<-release
				return Done(nil)
			},
		})
	}

	require.Eventually(t, func() bool {
		return started.Load() == 3
	}, time.Second, 5*time.Millisecond)

	close(release)
}

func TestPoolDeferReschedulesTask(t *testing.T) {
	p := New(1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var runs atomic.Int32
	p.Submit(&Task{
		Name: "retry-once",
		Run: func(ctx context.Context) Result {
			n := runs.Add(1)
			if n == 1 {
				return DeferBy(20 * time.Millisecond)
			}
			return Done(nil)
		},
	})

	require.Eventually(t, func() bool {
		return runs.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPoolRecoversFromPanickingTask(t *testing.T) {
	p := New(1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Submit(&Task{
		Name: "boom",
		Run: func(ctx context.Context) Result {
			panic("kaboom")
		},
	})

	done := make(chan struct{})
	p.Submit(&Task{
		Name: "after-panic",
		Run: func(ctx context.Context) Result {
			close(done)
			return Done(nil)
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not survive a panicking task")
	}
}

func TestPoolStopAcceptingRejectsNewSubmissions(t *testing.T) {
	p := New(1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.StopAccepting()

	var ran atomic.Bool
	p.Submit(&Task{
		Name: "late",
		Run: func(ctx context.Context) Result {
			ran.Store(true)
			return Done(nil)
		},
	})

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestPoolWaitReturnsAfterContextCancel(t *testing.T) {
	p := New(1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	p.Wait(waitCtx)
}
