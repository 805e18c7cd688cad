package conveyor

import "errors"

var (
	// Backpressure errors.
	ErrQueueFull        = errors.New("conveyor: queue full")
	ErrJobAlreadyQueued = errors.New("conveyor: job already queued")

	// Not found errors.
	ErrJobNotFound  = errors.New("conveyor: job not found")
	ErrCronNotFound = errors.New("conveyor: cron entry not found")
	ErrNoHandler    = errors.New("conveyor: no handler registered for job type")

	// Execution errors. Internal to the scheduler: they drive retry
	// accounting and surface only through history, metrics, and the DLQ.
	ErrExecutionTimeout = errors.New("conveyor: job execution timed out")
	ErrJobCancelled     = errors.New("conveyor: job cancelled")

	// Availability errors.
	ErrUnavailable      = errors.New("conveyor: scheduler unavailable")
	ErrSchedulerStopped = errors.New("conveyor: scheduler stopped")

	// Service errors, returned by jobs when an execution context
	// capability they need is absent.
	ErrServiceUnavailable = errors.New("conveyor: service not configured")
)
