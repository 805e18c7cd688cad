// Package scheduler implements the serialized control loop at the heart
// of Conveyor. One goroutine owns every mutable store — pending queue,
// running set, retry-wait set, dead letter store, history, metrics — and
// processes one control message at a time. Job bodies run in separate
// worker goroutines bounded by Config.Concurrency; their completions
// come back to the loop as messages, so no lock is ever held across
// user code.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/backoff"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/history"
	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/metrics"
	mw "github.com/conveyorhq/conveyor/middleware"
	"github.com/conveyorhq/conveyor/persist"
	"github.com/conveyorhq/conveyor/queue"
	"github.com/conveyorhq/conveyor/worker"
)

// dispatchInterval is how often the loop re-attempts dispatch for jobs
// held back by per-type rate limits.
const dispatchInterval = 100 * time.Millisecond

// runningJob tracks one in-flight execution. The cancel function stops
// the job's context; cancellation is cooperative, so the goroutine may
// keep running — the slot is reclaimed only when the body returns.
type runningJob struct {
	job       *job.QueuedJob
	cancel    context.CancelFunc
	cancelled bool
}

// waitingJob is a retryable failure parked until its backoff elapses.
type waitingJob struct {
	job   *job.QueuedJob
	timer *time.Timer
}

// Scheduler is the job processing core. All exported operations are
// safe for concurrent use: they send a request into the mailbox and
// wait for the reply under a bounded deadline.
type Scheduler struct {
	cfg      conveyor.Config
	logger   *slog.Logger
	registry *job.Registry
	executor *worker.Executor
	adapter  persist.Adapter
	hooks    *hook.Registry
	strategy backoff.Strategy
	limiter  *queue.Limiter
	services *job.Services
	mws      []mw.Middleware
	exts     []hook.Extension

	msgs     chan func()
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	// Loop-owned state. Only the run goroutine touches these fields
	// after Start returns.
	pending  *queue.PriorityQueue
	running  map[id.JobID]*runningJob
	waiting  map[id.JobID]*waitingJob
	dead     *dlq.Store
	ring     *history.Ring
	stats    *metrics.Aggregator
	slots    int
	draining bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithBackoff sets the retry backoff strategy. Defaults to
// backoff.DefaultStrategy() (exponential with jitter).
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Scheduler) { s.strategy = b }
}

// WithAdapter sets the persistence adapter. Defaults to persist.Noop.
func WithAdapter(a persist.Adapter) Option {
	return func(s *Scheduler) { s.adapter = a }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e hook.Extension) Option {
	return func(s *Scheduler) { s.exts = append(s.exts, e) }
}

// WithMiddleware appends middleware to the execution chain. The default
// chain is Recover then Timeout; user middleware runs inside those.
func WithMiddleware(m mw.Middleware) Option {
	return func(s *Scheduler) { s.mws = append(s.mws, m) }
}

// WithLimits configures per-job-type rate and concurrency limits.
func WithLimits(configs ...queue.LimitConfig) Option {
	return func(s *Scheduler) { s.limiter = queue.NewLimiter(configs...) }
}

// WithServices sets the execution context service handles visible to
// job handlers.
func WithServices(svcs *job.Services) Option {
	return func(s *Scheduler) { s.services = svcs }
}

// New creates a Scheduler. Call Start to begin processing.
func New(cfg conveyor.Config, registry *job.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: registry,
		adapter:  persist.NewNoop(),
		strategy: backoff.DefaultStrategy(),
		limiter:  queue.NewLimiter(),
		msgs:     make(chan func(), 128),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		pending:  queue.New(cfg.QueueCapacity),
		running:  make(map[id.JobID]*runningJob),
		waiting:  make(map[id.JobID]*waitingJob),
		dead:     dlq.NewStore(),
		ring:     history.NewRing(cfg.HistorySize),
		stats:    metrics.NewAggregator(cfg.SampleWindow),
		slots:    cfg.Concurrency,
	}
	for _, o := range opts {
		o(s)
	}

	s.hooks = hook.NewRegistry(s.logger)
	for _, e := range s.exts {
		s.hooks.Register(e)
	}

	chain := append([]mw.Middleware{mw.Recover(s.logger), mw.Timeout(s.logger)}, s.mws...)
	s.executor = worker.NewExecutor(s.registry, s.services, s.logger, chain...)
	return s
}

// Start recovers mirrored jobs from the persistence adapter and starts
// the control loop. Recovery is best-effort: a failed Recover is logged
// and the scheduler starts empty.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("conveyor/scheduler: already started")
	}
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())

	recovered, err := s.adapter.Recover(ctx)
	if err != nil {
		s.logger.Warn("crash recovery failed, starting empty",
			slog.String("error", err.Error()),
		)
	}
	for _, j := range recovered {
		if pushErr := s.pending.Push(j); pushErr != nil {
			s.logger.Warn("dropping recovered job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", pushErr.Error()),
			)
		}
	}
	if len(recovered) > 0 {
		s.logger.Info("recovered mirrored jobs",
			slog.Int("count", len(recovered)),
		)
	}

	go s.run()
	return nil
}

// Stop drains the scheduler: no new jobs are dispatched, in-flight jobs
// get up to Config.ShutdownTimeout to finish, then the loop exits. Stop
// returns when the loop has exited or ctx is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.started.Load() {
		// Never started, so there is no loop to drain.
		return nil
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an internal message to the loop, dropping it if the
// loop has already exited.
func (s *Scheduler) post(fn func()) {
	select {
	case s.msgs <- fn:
	case <-s.done:
	}
}
