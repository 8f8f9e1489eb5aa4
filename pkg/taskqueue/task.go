// Package taskqueue implements the fixed-size worker pool and the single
// in-process task queue described in §4.2: ready/deferred/in-progress
// lanes, node/group affinity serialization, and cooperative cancellation
// on shutdown.
package taskqueue

import (
	"context"
	"time"
)

// Task is one unit of deferrable, idempotent, crash-safe work.
type Task struct {
	// Name is the short human name used in logs.
	Name string

	// AffinityKey, if non-empty, serializes this task against every other
	// task sharing the same key (typically a node or group name) unless
	// Parallelizable is set (§4.2 - "a given node's tasks are serialized
	// on itself unless the task is explicitly tagged parallelizable").
	AffinityKey string

	// Parallelizable opts a task out of affinity serialization, e.g. a
	// transfer pull that may legitimately run concurrently with
	// verification on the same destination node.
	Parallelizable bool

	// Run is the task body. It may return a non-nil, non-zero Defer to
	// voluntarily reschedule itself instead of completing.
	Run func(ctx context.Context) Result
}

// Result is what a Task's body returns: either "done" (possibly with an
// error to log) or "defer me again in this long".
type Result struct {
	Err   error
	Defer time.Duration // zero means "done, do not reschedule"
}

// Done builds a completed Result, optionally carrying an error to log.
func Done(err error) Result { return Result{Err: err} }

// DeferBy builds a Result that reschedules the task after d.
func DeferBy(d time.Duration) Result { return Result{Defer: d} }
