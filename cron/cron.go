// Package cron schedules recurring jobs. Entries carry a cron
// expression (standard 5-field or "@every" descriptor) and a job
// template; a tick loop fires due entries by enqueueing the templated
// job through the scheduler.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits cron lifecycle events.
// hook.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Entry is one recurring job definition.
type Entry struct {
	ID       id.CronID `json:"id"`
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`

	// Job template applied on every fire.
	JobType    string        `json:"job_type"`
	Payload    []byte        `json:"payload,omitempty"`
	Priority   int           `json:"priority"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout"`

	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	NextRunAt time.Time  `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	RunCount  uint64     `json:"run_count"`
}

// EntryOption customizes the job template of a cron entry.
type EntryOption func(*Entry)

// WithPriority sets the priority of jobs the entry enqueues.
func WithPriority(p int) EntryOption {
	return func(e *Entry) { e.Priority = p }
}

// WithMaxRetries sets the retry budget of jobs the entry enqueues.
func WithMaxRetries(n int) EntryOption {
	return func(e *Entry) { e.MaxRetries = n }
}

// WithTimeout sets the execution timeout of jobs the entry enqueues.
func WithTimeout(d time.Duration) EntryOption {
	return func(e *Entry) { e.Timeout = d }
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler runs cron entries on a tick loop.
type Scheduler struct {
	enqueue EnqueueFunc
	emitter Emitter
	logger  *slog.Logger

	tickInterval time.Duration

	mu      sync.RWMutex
	entries map[id.CronID]*Entry
	// schedules caches parsed expressions per entry.
	schedules map[id.CronID]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. The emitter may be nil.
func NewScheduler(enqueue EnqueueFunc, emitter Emitter, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		enqueue:      enqueue,
		emitter:      emitter,
		logger:       slog.Default(),
		tickInterval: 1 * time.Second,
		entries:      make(map[id.CronID]*Entry),
		schedules:    make(map[id.CronID]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a recurring entry. The schedule is validated up front;
// the first fire happens at the schedule's next activation after now.
func (s *Scheduler) Register(name, schedule, jobType string, payload []byte, opts ...EntryOption) (id.CronID, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return id.Nil, fmt.Errorf("cron: parse schedule %q: %w", schedule, err)
	}

	defaults := job.DefaultOptions()
	now := time.Now().UTC()
	e := &Entry{
		ID:         id.NewCronID(),
		Name:       name,
		Schedule:   schedule,
		JobType:    jobType,
		Payload:    payload,
		Priority:   defaults.Priority,
		MaxRetries: defaults.MaxRetries,
		Timeout:    defaults.Timeout,
		Enabled:    true,
		CreatedAt:  now,
		NextRunAt:  sched.Next(now),
	}
	for _, opt := range opts {
		opt(e)
	}

	s.mu.Lock()
	s.entries[e.ID] = e
	s.schedules[e.ID] = sched
	s.mu.Unlock()

	s.logger.Info("cron entry registered",
		slog.String("cron_id", e.ID.String()),
		slog.String("cron_name", name),
		slog.String("schedule", schedule),
		slog.Time("next_run_at", e.NextRunAt),
	)
	return e.ID, nil
}

// Unregister removes an entry.
func (s *Scheduler) Unregister(cronID id.CronID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[cronID]; !ok {
		return conveyor.ErrCronNotFound
	}
	delete(s.entries, cronID)
	delete(s.schedules, cronID)
	return nil
}

// SetEnabled pauses or resumes an entry. A disabled entry keeps its
// place in the table but never fires.
func (s *Scheduler) SetEnabled(cronID id.CronID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[cronID]
	if !ok {
		return conveyor.ErrCronNotFound
	}
	if !e.Enabled && enabled {
		// Re-anchor so a long pause does not cause an immediate fire.
		e.NextRunAt = s.schedules[cronID].Next(time.Now().UTC())
	}
	e.Enabled = enabled
	return nil
}

// Get returns a copy of one entry.
func (s *Scheduler) Get(cronID id.CronID) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[cronID]
	if !ok {
		return Entry{}, conveyor.ErrCronNotFound
	}
	return *e, nil
}

// List returns copies of all entries.
func (s *Scheduler) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(time.Now().UTC())
		}
	}
}

// tick fires every enabled entry whose NextRunAt has passed. Missed
// ticks collapse into a single fire: NextRunAt always advances from
// now, not from the missed activation.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if !e.Enabled || e.NextRunAt.After(now) {
			continue
		}
		due = append(due, e)
	}
	for _, e := range due {
		e.NextRunAt = s.schedules[e.ID].Next(now)
		if e.NextRunAt.IsZero() {
			// Schedule has no future activations; this firing is the last.
			e.Enabled = false
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fireEntry(e, now)
	}
}

func (s *Scheduler) fireEntry(e *Entry, now time.Time) {
	ctx := context.Background()

	jobID, err := s.enqueue(ctx, e.JobType, e.Payload,
		job.WithPriority(e.Priority),
		job.WithMaxRetries(e.MaxRetries),
		job.WithTimeout(e.Timeout),
	)
	if err != nil {
		// The occurrence is skipped; the next activation was already
		// scheduled during tick.
		s.logger.Error("cron enqueue error",
			slog.String("cron_name", e.Name),
			slog.String("job_type", e.JobType),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	e.LastRunAt = &now
	e.RunCount++
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, e.Name, jobID)
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("job_type", e.JobType),
		slog.String("job_id", jobID.String()),
	)
}
