// Package api exposes the scheduler over HTTP. Routes live under /v1
// and speak JSON; errors map onto the scheduler's sentinel errors
// (404 for unknown ids, 429 when the queue is full, 503 when the
// scheduler cannot answer in time).
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/conveyorhq/conveyor/cron"
	"github.com/conveyorhq/conveyor/scheduler"
)

// API wires all HTTP handlers for a scheduler instance.
type API struct {
	sched  *scheduler.Scheduler
	crons  *cron.Scheduler
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithCron enables the /v1/crons routes.
func WithCron(c *cron.Scheduler) Option {
	return func(a *API) { a.crons = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API for a scheduler.
func New(sched *scheduler.Scheduler, opts ...Option) *API {
	a := &API{sched: sched, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", a.enqueueJob)
		r.Get("/jobs/{jobID}", a.getJob)
		r.Post("/jobs/{jobID}/cancel", a.cancelJob)

		r.Get("/history", a.getHistory)
		r.Get("/metrics", a.getMetrics)

		r.Get("/dlq", a.listDeadLetters)
		r.Post("/dlq/retry", a.retryAllDeadLetters)
		r.Post("/dlq/{jobID}/retry", a.retryDeadLetter)
		r.Delete("/dlq", a.clearDeadLetters)

		if a.crons != nil {
			r.Post("/crons", a.registerCron)
			r.Get("/crons", a.listCrons)
			r.Get("/crons/{cronID}", a.getCron)
			r.Delete("/crons/{cronID}", a.unregisterCron)
			r.Post("/crons/{cronID}/enable", a.enableCron)
			r.Post("/crons/{cronID}/disable", a.disableCron)
		}
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}
