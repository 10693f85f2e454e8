// Package queue implements the in-memory per-stage dispatch queues and the
// reconciler that keeps them fed from the database. The database is the
// source of truth; queues only order what is already pending, so losing them
// on restart costs nothing but one reconcile interval of latency.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/seqlab/nanotrack/pkg/store"
)

// item wraps a pending step with its heap bookkeeping index.
type item struct {
	step  *store.PendingStep
	index int
}

// stepHeap orders items by priority rank (desc) and, with stable ordering
// on, breaks ties by submission date (asc) then sample number (asc). The
// stable triple is a total order within a submission, which keeps dispatch
// deterministic.
type stepHeap struct {
	items  []*item
	stable bool
}

func (h *stepHeap) Len() int { return len(h.items) }

func (h *stepHeap) Less(i, j int) bool {
	a, b := h.items[i].step, h.items[j].step
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !h.stable {
		return false
	}
	if !a.SubmissionDate.Equal(b.SubmissionDate) {
		return a.SubmissionDate.Before(b.SubmissionDate)
	}
	return a.SampleNumber < b.SampleNumber
}

func (h *stepHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *stepHeap) Push(x any) {
	it := x.(*item)
	it.index = len(h.items)
	h.items = append(h.items, it)
}

func (h *stepHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	return it
}

// StageQueue is the dispatch queue for one workflow stage. Enqueue is
// idempotent per step id, so the reconciler can re-scan freely.
type StageQueue struct {
	mu      sync.Mutex
	heap    stepHeap
	members map[string]*item

	notify chan struct{}
}

// NewStageQueue creates an empty queue. stable toggles the deterministic
// (submission date, sample number) tie-break within a priority rank.
func NewStageQueue(stable bool) *StageQueue {
	return &StageQueue{
		heap:    stepHeap{stable: stable},
		members: make(map[string]*item),
		notify:  make(chan struct{}, 1),
	}
}

// Enqueue adds a pending step. Returns false if the step is already queued.
func (q *StageQueue) Enqueue(step *store.PendingStep) bool {
	q.mu.Lock()
	if _, ok := q.members[step.StepID]; ok {
		q.mu.Unlock()
		return false
	}
	it := &item{step: step}
	heap.Push(&q.heap, it)
	q.members[step.StepID] = it
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the highest-ranked step without blocking.
func (q *StageQueue) TryDequeue() (*store.PendingStep, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.members, it.step.StepID)
	return it.step, true
}

// Dequeue pops the highest-ranked step, waiting up to timeout for one to
// arrive. Returns false on timeout or context cancellation.
func (q *StageQueue) Dequeue(ctx context.Context, timeout time.Duration) (*store.PendingStep, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if step, ok := q.TryDequeue(); ok {
			return step, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-q.notify:
		}
	}
}

// Remove drops a queued step, typically because its sample was paused or the
// step left pending through another path. Returns false if not queued.
func (q *StageQueue) Remove(stepID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.members[stepID]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, it.index)
	delete(q.members, stepID)
	return true
}

// Reorder updates a queued step's ordering fields in place and restores the
// heap invariant. Returns false if the step is not queued.
func (q *StageQueue) Reorder(stepID string, update func(*store.PendingStep)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.members[stepID]
	if !ok {
		return false
	}
	update(it.step)
	heap.Fix(&q.heap, it.index)
	return true
}

// Contains reports whether the step is currently queued.
func (q *StageQueue) Contains(stepID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[stepID]
	return ok
}

// Len returns the number of queued steps.
func (q *StageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap.items)
}
