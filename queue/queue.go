// Package queue provides the bounded in-memory priority queue for pending
// jobs and a per-type rate limiter consulted before dispatch.
package queue

import (
	"container/heap"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// entry wraps a job with its heap index and an arrival sequence number.
// The sequence breaks EnqueuedAt ties so the ordering is total even when
// two jobs share a timestamp.
type entry struct {
	job   *job.QueuedJob
	seq   uint64
	index int
}

// entryHeap implements heap.Interface ordered by priority descending,
// then arrival ascending (FIFO within equal priority).
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, k int) bool {
	if h[i].job.Priority != h[k].job.Priority {
		return h[i].job.Priority > h[k].job.Priority
	}
	if !h[i].job.EnqueuedAt.Equal(h[k].job.EnqueuedAt) {
		return h[i].job.EnqueuedAt.Before(h[k].job.EnqueuedAt)
	}
	return h[i].seq < h[k].seq
}

func (h entryHeap) Swap(i, k int) {
	h[i], h[k] = h[k], h[i]
	h[i].index = i
	h[k].index = k
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// PriorityQueue is the bounded pending-job store. Ordering is total:
// priority descending, then enqueue time ascending. It is not safe for
// concurrent use; the scheduler loop is its single owner.
type PriorityQueue struct {
	heap     entryHeap
	byID     map[id.JobID]*entry
	capacity int
	nextSeq  uint64
}

// New creates a PriorityQueue with the given capacity.
func New(capacity int) *PriorityQueue {
	return &PriorityQueue{
		byID:     make(map[id.JobID]*entry),
		capacity: capacity,
	}
}

// Push adds a job. It returns conveyor.ErrQueueFull at capacity and
// conveyor.ErrJobAlreadyQueued on a duplicate ID; in both cases the
// queue is left unchanged.
func (q *PriorityQueue) Push(j *job.QueuedJob) error {
	if len(q.heap) >= q.capacity {
		return conveyor.ErrQueueFull
	}
	if _, ok := q.byID[j.ID]; ok {
		return conveyor.ErrJobAlreadyQueued
	}

	e := &entry{job: j, seq: q.nextSeq}
	q.nextSeq++
	q.byID[j.ID] = e
	heap.Push(&q.heap, e)
	return nil
}

// Pop removes and returns the highest-priority, earliest-enqueued job,
// or nil if the queue is empty.
func (q *PriorityQueue) Pop() *job.QueuedJob {
	if len(q.heap) == 0 {
		return nil
	}
	e := heap.Pop(&q.heap).(*entry)
	delete(q.byID, e.job.ID)
	return e.job
}

// Peek returns the front job without removing it, or nil if empty.
func (q *PriorityQueue) Peek() *job.QueuedJob {
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0].job
}

// Remove deletes the job with the given ID, returning it if present.
// O(log n) via the index map and heap.Remove.
func (q *PriorityQueue) Remove(jobID id.JobID) (*job.QueuedJob, bool) {
	e, ok := q.byID[jobID]
	if !ok {
		return nil, false
	}
	heap.Remove(&q.heap, e.index)
	delete(q.byID, jobID)
	return e.job, true
}

// Contains reports whether a job with the given ID is queued.
func (q *PriorityQueue) Contains(jobID id.JobID) bool {
	_, ok := q.byID[jobID]
	return ok
}

// Len returns the number of queued jobs.
func (q *PriorityQueue) Len() int { return len(q.heap) }

// Free returns the remaining capacity.
func (q *PriorityQueue) Free() int { return q.capacity - len(q.heap) }
