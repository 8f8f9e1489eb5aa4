package taskqueue

import (
	"container/heap"
	"time"
)

// deferredItem is one task waiting for its not-before time to elapse.
type deferredItem struct {
	at   time.Time
	task *Task
}

// deferredHeap is a time-indexed min-heap so the dispatcher can always ask
// "what's the next thing that becomes ready, and when" in O(log n).
type deferredHeap []*deferredItem

func (h deferredHeap) Len() int            { return len(h) }
func (h deferredHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deferredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deferredHeap) Push(x interface{}) { *h = append(*h, x.(*deferredItem)) }

func (h *deferredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// deferredQueue wraps deferredHeap behind the container/heap interface so
// callers don't need to remember to call heap.Init/Push/Pop themselves.
type deferredQueue struct {
	h deferredHeap
}

func newDeferredQueue() *deferredQueue {
	dq := &deferredQueue{}
	heap.Init(&dq.h)
	return dq
}

func (dq *deferredQueue) add(task *Task, at time.Time) {
	heap.Push(&dq.h, &deferredItem{at: at, task: task})
}

// drainReady pops and returns every item whose not-before time has
// elapsed by now.
func (dq *deferredQueue) drainReady(now time.Time) []*Task {
	var ready []*Task
	for dq.h.Len() > 0 && !dq.h[0].at.After(now) {
		item := heap.Pop(&dq.h).(*deferredItem)
		ready = append(ready, item.task)
	}
	return ready
}

// nextAt returns the earliest not-before time still pending, and whether
// there is one at all.
func (dq *deferredQueue) nextAt() (time.Time, bool) {
	if dq.h.Len() == 0 {
		return time.Time{}, false
	}
	return dq.h[0].at, true
}
