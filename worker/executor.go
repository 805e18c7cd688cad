// Package worker provides the Executor that runs a single job body
// through the middleware chain and the registered handler. Retry,
// dead-letter and bookkeeping decisions stay with the scheduler loop;
// the executor only produces an outcome.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/middleware"
)

// Result is the outcome of one execution attempt.
type Result struct {
	Job        *job.QueuedJob
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall-clock time the attempt took.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Executor invokes registered handlers through middleware. It holds no
// mutable state and is safe for concurrent use by many worker
// goroutines.
type Executor struct {
	registry *job.Registry
	services *job.Services
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor. The middleware are composed
// left-to-right outermost-first, exactly as middleware.Chain does.
func NewExecutor(
	registry *job.Registry,
	services *job.Services,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if services == nil {
		services = job.NewServices()
	}
	return &Executor{
		registry: registry,
		services: services,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs one attempt of a job. The handler sees the shared
// service handles via the context. A missing handler is an immediate
// failure; it still goes through normal retry accounting because a
// handler may be registered later.
func (e *Executor) Execute(ctx context.Context, j *job.QueuedJob) Result {
	start := time.Now().UTC()

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		e.logger.Warn("no handler registered",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
		)
		return Result{
			Job:        j,
			Err:        fmt.Errorf("%w: %s", conveyor.ErrNoHandler, j.Type),
			StartedAt:  start,
			FinishedAt: time.Now().UTC(),
		}
	}

	ctx = job.NewContext(ctx, e.services)
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	err := e.mw(ctx, j, terminal)
	return Result{
		Job:        j,
		Err:        err,
		StartedAt:  start,
		FinishedAt: time.Now().UTC(),
	}
}
