package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/history"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/metrics"
)

// call sends a request into the mailbox and waits for the reply under a
// bounded deadline. The caller always gets a bounded-time result: the
// value, ErrUnavailable when the deadline elapses, ErrSchedulerStopped
// when the loop has exited, or the caller's own context error.
func call[T any](s *Scheduler, ctx context.Context, timeout time.Duration, fn func() T) (T, error) {
	var zero T
	reply := make(chan T, 1) // buffered: the loop never blocks on reply
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.msgs <- func() { reply <- fn() }:
	case <-s.done:
		return zero, conveyor.ErrSchedulerStopped
	case <-timer.C:
		return zero, conveyor.ErrUnavailable
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return zero, conveyor.ErrSchedulerStopped
	case <-timer.C:
		return zero, conveyor.ErrUnavailable
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ──────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────

type enqueueReply struct {
	id  id.JobID
	err error
}

// Enqueue submits a job. Options default to the registered definition's
// options for the type; explicit opts override them. Enqueue is
// fire-and-forget with respect to the eventual outcome: it reports only
// acceptance (the new job id) or rejection (ErrQueueFull, or
// ErrSchedulerStopped while draining).
func (s *Scheduler) Enqueue(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
	o := s.registry.Defaults(jobType)
	for _, opt := range opts {
		opt(&o)
	}
	j := &job.QueuedJob{
		ID:         id.NewJobID(),
		Type:       jobType,
		Payload:    payload,
		Priority:   o.Priority,
		MaxRetries: o.MaxRetries,
		Timeout:    o.Timeout,
		EnqueuedAt: time.Now().UTC(),
	}

	r, err := call(s, ctx, s.cfg.RequestTimeout, func() enqueueReply {
		if s.draining {
			return enqueueReply{err: conveyor.ErrSchedulerStopped}
		}
		if pushErr := s.pending.Push(j); pushErr != nil {
			s.stats.IncRejected()
			return enqueueReply{err: pushErr}
		}
		s.stats.IncEnqueued()
		s.persistMirror(j)
		s.hooks.EmitJobEnqueued(s.baseCtx, j)
		s.dispatch()
		return enqueueReply{id: j.ID}
	})
	if err != nil {
		return id.Nil, err
	}
	return r.id, r.err
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

type statusReply struct {
	status job.Status
	err    error
}

// Status reports where a live job currently is: StatusRunning,
// StatusPending (queued), or StatusRetrying (parked for backoff).
// Terminal jobs are not live and return ErrJobNotFound; their outcome
// is in History or DeadLetters.
func (s *Scheduler) Status(ctx context.Context, jobID id.JobID) (job.Status, error) {
	r, err := call(s, ctx, s.cfg.RequestTimeout, func() statusReply {
		if rj, ok := s.running[jobID]; ok && !rj.cancelled {
			return statusReply{status: job.StatusRunning}
		}
		if s.pending.Contains(jobID) {
			return statusReply{status: job.StatusPending}
		}
		if _, ok := s.waiting[jobID]; ok {
			return statusReply{status: job.StatusRetrying}
		}
		return statusReply{err: conveyor.ErrJobNotFound}
	})
	if err != nil {
		return "", err
	}
	return r.status, r.err
}

// Metrics returns a consistent snapshot of counters, gauges and latency
// percentiles.
func (s *Scheduler) Metrics(ctx context.Context) (metrics.Snapshot, error) {
	return call(s, ctx, s.cfg.RequestTimeout, func() metrics.Snapshot {
		s.syncGauges()
		return s.stats.Snapshot()
	})
}

// History returns one page of terminal-outcome records, newest first.
// search filters by case-insensitive substring on job type, id and
// error summary. Pages are stable within one call; concurrent terminal
// outcomes may shift records between calls.
func (s *Scheduler) History(ctx context.Context, page, pageSize int, search string) (history.Page, error) {
	return call(s, ctx, s.cfg.RequestTimeout, func() history.Page {
		return s.ring.GetPage(page, pageSize, search)
	})
}

// DeadLetters returns all dead letter entries in insertion order.
func (s *Scheduler) DeadLetters(ctx context.Context) ([]*dlq.Entry, error) {
	return call(s, ctx, s.cfg.RequestTimeout, func() []*dlq.Entry {
		return s.dead.List()
	})
}

// ──────────────────────────────────────────────────
// Dead letter operations
// ──────────────────────────────────────────────────

// RetryJob moves one dead-lettered job back into the queue with its
// attempt counter reset to 0. Returns false without mutation when the
// id is unknown or the queue has no room.
func (s *Scheduler) RetryJob(ctx context.Context, jobID id.JobID) (bool, error) {
	return call(s, ctx, s.cfg.RequestTimeout, func() bool {
		if _, ok := s.dead.Get(jobID); !ok {
			return false
		}
		if s.pending.Free() == 0 {
			return false
		}
		e, _ := s.dead.Remove(jobID)
		j := e.Job
		j.Attempt = 0
		if err := s.pending.Push(j); err != nil {
			// Free() was checked above; only a duplicate id could
			// land here, and the invariant forbids that.
			s.logger.Error("dead letter retry push failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
			s.dead.Add(j, err)
			return false
		}
		s.stats.IncEnqueued()
		s.persistMirror(j)
		s.hooks.EmitJobEnqueued(s.baseCtx, j)
		s.dispatch()
		return true
	})
}

// RetryAllFailed drains the dead letter store back into the queue,
// resetting every attempt counter. The operation is all-or-nothing: if
// the queue lacks capacity for every entry, nothing moves and the
// returned count is 0.
func (s *Scheduler) RetryAllFailed(ctx context.Context) (int, error) {
	return call(s, ctx, s.cfg.BulkRequestTimeout, func() int {
		if s.dead.Len() == 0 || s.pending.Free() < s.dead.Len() {
			return 0
		}
		entries := s.dead.Drain()
		for _, e := range entries {
			j := e.Job
			j.Attempt = 0
			if err := s.pending.Push(j); err != nil {
				s.logger.Error("bulk retry push failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.stats.IncEnqueued()
			s.persistMirror(j)
			s.hooks.EmitJobEnqueued(s.baseCtx, j)
		}
		s.dispatch()
		return len(entries)
	})
}

// ClearDeadLetters discards every dead letter entry and returns how
// many were removed. An immediate second call returns 0.
func (s *Scheduler) ClearDeadLetters(ctx context.Context) (int, error) {
	return call(s, ctx, s.cfg.BulkRequestTimeout, func() int {
		return s.dead.Clear()
	})
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

// CancelJob cancels a live job. A pending or backoff-parked job is
// removed immediately and synchronously. Cancelling a running job is
// advisory: its context is cancelled, but the body may run to
// completion in the background; the terminal outcome is Cancelled
// either way and the job is never retried. Returns false for unknown
// ids.
func (s *Scheduler) CancelJob(ctx context.Context, jobID id.JobID) (bool, error) {
	return call(s, ctx, s.cfg.RequestTimeout, func() bool {
		if j, ok := s.pending.Remove(jobID); ok {
			s.cancelledPendingRecord(j)
			s.stats.IncCancelled()
			s.removeMirror(jobID)
			s.hooks.EmitJobCancelled(s.baseCtx, j)
			return true
		}
		if w, ok := s.waiting[jobID]; ok {
			w.timer.Stop()
			delete(s.waiting, jobID)
			s.cancelledPendingRecord(w.job)
			s.stats.IncCancelled()
			s.removeMirror(jobID)
			s.hooks.EmitJobCancelled(s.baseCtx, w.job)
			return true
		}
		if rj, ok := s.running[jobID]; ok && !rj.cancelled {
			rj.cancelled = true
			rj.cancel()
			return true
		}
		return false
	})
}
