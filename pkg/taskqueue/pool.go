package taskqueue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/radiocosmology/alpenhorn/pkg/namedlock"
)

// Pool is a fixed-size worker pool draining one task queue. Suspension is
// cooperative: a task body only yields at its own voluntary Defer, an
// awaited subprocess, or synchronous I/O (§4.2, §5) - the pool never
// preempts anything.
type Pool struct {
	size   int
	logger *log.Logger

	ready    chan *Task
	deferred *deferredQueue
	deferMu  sync.Mutex
	wakeup   chan struct{}

	affinity *namedlock.Map

	wg sync.WaitGroup

	mu         sync.Mutex
	draining   bool
	inProgress int
}

// New creates a Pool with size workers. Call Start to begin processing.
func New(size int, logger *log.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:     size,
		logger:   logger,
		ready:    make(chan *Task, 256),
		deferred: newDeferredQueue(),
		wakeup:   make(chan struct{}, 1),
		affinity: namedlock.New(),
	}
}

// Start launches the worker goroutines and the deferred-task scheduler.
// It returns immediately; workers run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.deferredScheduler(ctx)
}

// Submit enqueues a task for immediate (affinity permitting) execution.
// It is a no-op once the pool has begun draining for shutdown (§4.2 -
// "the dispatcher stops accepting new tasks").
func (p *Pool) Submit(t *Task) {
	p.mu.Lock()
	draining := p.draining
	p.mu.Unlock()

	if draining {
		return
	}

	p.ready <- t
}

// Defer schedules t to become ready again after d.
func (p *Pool) Defer(t *Task, d time.Duration) {
	p.deferMu.Lock()
	p.deferred.add(t, time.Now().Add(d))
	p.deferMu.Unlock()

	select {
	case p.wakeup <- struct{}{}:
	default:
	}
}

// StopAccepting begins graceful drain: no new Submit calls will be queued,
// but in-progress and already-queued tasks still run out.
func (p *Pool) StopAccepting() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
}

// Wait blocks until all in-flight tasks finish or ctx is done, whichever
// is first - the shutdown_grace deadline is enforced by the caller passing
// a context with a deadline (§4.2, §4.10).
func (p *Pool) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// InProgress returns the number of tasks currently executing, for queue
// stats (§4.8 step 4).
func (p *Pool) InProgress() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inProgress
}

// QueueDepth returns the number of tasks waiting in the ready lane.
func (p *Pool) QueueDepth() int { return len(p.ready) }

// DeferredDepth returns the number of tasks waiting in the deferred lane.
func (p *Pool) DeferredDepth() int {
	p.deferMu.Lock()
	defer p.deferMu.Unlock()
	return p.deferred.h.Len()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.ready:
			if !ok {
				return
			}
			p.run(ctx, t)
		}
	}
}

func (p *Pool) run(ctx context.Context, t *Task) {
	var unlock func()

	if t.AffinityKey != "" && !t.Parallelizable {
		var ok bool
		unlock, ok = p.affinity.TryLock(t.AffinityKey)
		if !ok {
			// someone else owns this node right now; come back shortly
			// rather than busy-spinning on the ready channel.
			p.Defer(t, 200*time.Millisecond)
			return
		}
	}

	p.mu.Lock()
	p.inProgress++
	p.mu.Unlock()

	result := p.runBodySafely(ctx, t)

	p.mu.Lock()
	p.inProgress--
	p.mu.Unlock()

	if unlock != nil {
		unlock()
	}

	if result.Err != nil {
		p.logger.Printf("task %q failed: %v", t.Name, result.Err)
	}

	if result.Defer > 0 {
		p.Defer(t, result.Defer)
	}
}

// runBodySafely wraps a task body so a panic is logged with a stack trace
// and converted into a failed-but-non-poisoning result (§7 - "no
// exception ever bubbles to the main loop").
func (p *Pool) runBodySafely(ctx context.Context, t *Task) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Err: fmt.Errorf("task %q panicked: %v", t.Name, r)}
		}
	}()

	return t.Run(ctx)
}

func (p *Pool) deferredScheduler(ctx context.Context) {
	defer p.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	resetTimer := func() {
		p.deferMu.Lock()
		at, ok := p.deferred.nextAt()
		p.deferMu.Unlock()

		if !ok {
			timer.Reset(time.Hour)
			return
		}

		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
	}

	resetTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wakeup:
			resetTimer()
		case <-timer.C:
			p.deferMu.Lock()
			ready := p.deferred.drainReady(time.Now())
			p.deferMu.Unlock()

			for _, t := range ready {
				p.Submit(t)
			}

			resetTimer()
		}
	}
}
