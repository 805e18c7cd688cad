package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/history"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/worker"
)

// run is the control loop. It is the single writer of every store; the
// invariants (a job id lives in at most one of pending/running/dead,
// attempt never decreases while alive) hold between handled messages.
func (s *Scheduler) run() {
	defer close(s.done)
	defer s.baseCancel()

	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	stopC := s.stopCh
	var deadline <-chan time.Time

	for {
		select {
		case msg := <-s.msgs:
			msg()

		case <-ticker.C:
			s.dispatch()

		case <-stopC:
			stopC = nil
			s.draining = true
			s.logger.Info("scheduler draining",
				slog.Int("running", len(s.running)),
				slog.Int("queued", s.pending.Len()),
			)
			dt := time.NewTimer(s.cfg.ShutdownTimeout)
			defer dt.Stop()
			deadline = dt.C

		case <-deadline:
			s.logger.Warn("shutdown deadline reached, abandoning in-flight jobs",
				slog.Int("running", len(s.running)),
			)
			s.hooks.EmitShutdown(context.Background())
			return
		}

		s.syncGauges()
		if s.draining && len(s.running) == 0 {
			s.hooks.EmitShutdown(context.Background())
			s.logger.Info("scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) syncGauges() {
	s.stats.SetGauges(len(s.running), s.pending.Len(), s.dead.Len())
}

// dispatch starts queued jobs while worker slots are free. Jobs denied
// by the per-type limiter go back into the queue and are retried on the
// next tick.
func (s *Scheduler) dispatch() {
	if s.draining {
		return
	}

	var denied []*job.QueuedJob
	for s.slots > 0 {
		j := s.pending.Pop()
		if j == nil {
			break
		}
		if !s.limiter.Acquire(j.Type) {
			denied = append(denied, j)
			continue
		}
		s.startJob(j)
	}
	for _, j := range denied {
		if err := s.pending.Push(j); err != nil {
			// Capacity cannot have shrunk since the Pop above.
			s.logger.Error("failed to requeue limited job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// startJob moves a job into the running set and spawns its worker
// goroutine. The goroutine reports back through the mailbox.
func (s *Scheduler) startJob(j *job.QueuedJob) {
	s.slots--
	jctx, cancel := context.WithCancel(s.baseCtx)
	rj := &runningJob{job: j, cancel: cancel}
	s.running[j.ID] = rj
	s.hooks.EmitJobStarted(s.baseCtx, j)

	go func() {
		res := s.executor.Execute(jctx, j)
		cancel()
		s.post(func() { s.finish(rj, res) })
	}()
}

// finish handles a worker completion. Runs inside the loop.
func (s *Scheduler) finish(rj *runningJob, res worker.Result) {
	j := rj.job
	delete(s.running, j.ID)
	s.slots++
	s.limiter.Release(j.Type)
	defer s.dispatch()

	switch {
	case rj.cancelled:
		// A result arriving after cancellation is discarded; the
		// terminal outcome is Cancelled regardless.
		s.appendRecord(j, history.OutcomeCancelled, res.StartedAt, res.FinishedAt, j.Attempt+1, conveyor.ErrJobCancelled.Error())
		s.stats.IncCancelled()
		s.removeMirror(j.ID)
		s.hooks.EmitJobCancelled(s.baseCtx, j)

	case res.Err == nil:
		s.appendRecord(j, history.OutcomeCompleted, res.StartedAt, res.FinishedAt, j.Attempt+1, "")
		s.stats.IncCompleted(res.Duration())
		s.removeMirror(j.ID)
		s.hooks.EmitJobCompleted(s.baseCtx, j, res.Duration())

	default:
		// Error and timeout are identical for retry accounting.
		j.Attempt++
		if j.Attempt <= j.MaxRetries {
			s.scheduleRetry(j, res.Err)
		} else {
			s.deadLetter(j, res)
		}
	}
}

// scheduleRetry parks a failed job in the waiting set until its backoff
// delay elapses, then re-enqueues it via a mailbox message. While
// waiting, the job reports StatusRetrying.
func (s *Scheduler) scheduleRetry(j *job.QueuedJob, execErr error) {
	delay := s.strategy.Delay(j.Attempt)
	nextRunAt := time.Now().UTC().Add(delay)

	jobID := j.ID
	w := &waitingJob{job: j}
	w.timer = time.AfterFunc(delay, func() {
		s.post(func() { s.promote(jobID) })
	})
	s.waiting[jobID] = w

	s.stats.IncRetried()
	s.persistMirror(j)
	s.hooks.EmitJobRetrying(s.baseCtx, j, j.Attempt, nextRunAt)

	s.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
		slog.String("error", execErr.Error()),
	)
}

// promote moves a waiting job whose backoff has elapsed back into the
// pending queue. On a full queue the job stays parked and the promotion
// is retried shortly; dropping it would lose the retry budget.
func (s *Scheduler) promote(jobID id.JobID) {
	w, ok := s.waiting[jobID]
	if !ok {
		return // cancelled while waiting
	}
	if err := s.pending.Push(w.job); err != nil {
		w.timer = time.AfterFunc(time.Second, func() {
			s.post(func() { s.promote(jobID) })
		})
		s.logger.Warn("queue full, delaying retry re-enqueue",
			slog.String("job_id", jobID.String()),
		)
		return
	}
	delete(s.waiting, jobID)
	s.dispatch()
}

// deadLetter moves a job that exhausted its retry budget into the dead
// letter store and writes the Failed history record.
func (s *Scheduler) deadLetter(j *job.QueuedJob, res worker.Result) {
	entry := s.dead.Add(j, res.Err)
	s.appendRecord(j, history.OutcomeFailed, res.StartedAt, res.FinishedAt, j.Attempt, res.Err.Error())
	s.stats.IncFailed(res.Duration())
	s.stats.IncDeadLettered()
	s.removeMirror(j.ID)
	s.hooks.EmitJobFailed(s.baseCtx, j, res.Err)
	s.hooks.EmitJobDeadLettered(s.baseCtx, j, res.Err)

	s.logger.Warn("job moved to dead letter store after exhausting retries",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("entry_id", entry.ID.String()),
		slog.Int("attempt", j.Attempt),
		slog.String("error", res.Err.Error()),
	)
}

// appendRecord writes the immutable history projection of a finished
// job. attempts counts execution attempts actually performed.
func (s *Scheduler) appendRecord(j *job.QueuedJob, outcome history.Outcome, started, finished time.Time, attempts int, errMsg string) {
	var dur time.Duration
	if !started.IsZero() {
		dur = finished.Sub(started)
	}
	s.ring.Append(history.Record{
		ID:         j.ID,
		JobType:    j.Type,
		Outcome:    outcome,
		EnqueuedAt: j.EnqueuedAt,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   dur,
		Attempts:   attempts,
		Error:      errMsg,
	})
}

// persistMirror issues a fire-and-forget mirror write. The job is
// copied first so the write never races with loop mutations.
func (s *Scheduler) persistMirror(j *job.QueuedJob) {
	jc := *j
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.adapter.Persist(ctx, &jc); err != nil {
			s.logger.Warn("persistence mirror write failed",
				slog.String("job_id", jc.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// removeMirror issues a fire-and-forget mirror delete.
func (s *Scheduler) removeMirror(jobID id.JobID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.adapter.Remove(ctx, jobID); err != nil {
			s.logger.Warn("persistence mirror delete failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// cancelledPendingRecord writes the Cancelled record for a job that
// never started running.
func (s *Scheduler) cancelledPendingRecord(j *job.QueuedJob) {
	now := time.Now().UTC()
	s.appendRecord(j, history.OutcomeCancelled, time.Time{}, now, j.Attempt, conveyor.ErrJobCancelled.Error())
}
