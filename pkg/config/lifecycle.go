package config

import (
	"context"
	"time"

	"github.com/function61/gokit/ossignal"
	"github.com/function61/gokit/stopper"
)

// Lifecycle cascades a terminating signal into worker shutdown, matching
// the corpus's stopper.Manager idiom (stoserver/entrypoint.go,
// bupserver/server.go): a background goroutine blocks on
// ossignal.InterruptOrTerminate and, on receipt, cancels the root context
// and calls StopAllWorkersAndWait, which waits for any worker that took a
// *stopper.Stopper through Stopper(). Components that work from Context()
// stop through its cancellation rather than being forcibly killed.
type Lifecycle struct {
	workers *stopper.Manager
	ctx     context.Context
	cancel  context.CancelFunc
	grace   time.Duration
}

// NewLifecycle wires signal handling for a run of the daemon. ctx is the
// root context every component's tasks should derive from; it is
// cancelled the moment a terminating signal arrives, which is the
// mechanism §4.10 calls "signals cancellation to the worker pool".
func NewLifecycle(grace time.Duration, logger *Logging) *Lifecycle {
	ctx, cancel := context.WithCancel(context.Background())

	l := &Lifecycle{
		workers: stopper.NewManager(),
		ctx:     ctx,
		cancel:  cancel,
		grace:   grace,
	}

	logl := logger.For("lifecycle")

	go func() {
		sig := <-ossignal.InterruptOrTerminate()
		logl.Info.Printf("got %s; stopping", sig)
		cancel()
		l.workers.StopAllWorkersAndWait()
	}()

	return l
}

// Context is cancelled the instant shutdown begins; the daemon loop, the
// worker pool and the tasks it runs (including transfer subprocesses)
// take it. Index queries do not take a context, and the final pool.Wait
// uses ShutdownDeadline instead.
func (l *Lifecycle) Context() context.Context { return l.ctx }

// Stopper hands a named *stopper.Stopper to a long-running worker; the
// worker's loop must select on Stopper().Signal and call Stopper().Done()
// on its way out.
func (l *Lifecycle) Stopper() *stopper.Stopper { return l.workers.Stopper() }

// ShutdownDeadline returns a context bounded by shutdown_grace, for the
// final pool.Wait call in the run command (§4.10 - "waits up to
// shutdown_grace for drain, then exits").
func (l *Lifecycle) ShutdownDeadline() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), l.grace)
}
