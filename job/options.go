package job

import "time"

// Options configures per-job behavior such as retries, priority, and timeout.
type Options struct {
	// MaxRetries is the number of retry attempts before the job is
	// moved to the dead letter store.
	MaxRetries int

	// Priority determines dequeue ordering. Higher values run first;
	// equal priorities run in enqueue order.
	Priority int

	// Timeout is the maximum duration one execution attempt may run.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Priority:   0,
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option for configuring a job definition
// or a single enqueue.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithPriority sets the job priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration per attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
