package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig defines per-job-type dispatch limits.
type LimitConfig struct {
	// Type is the job type tag (must match job.QueuedJob.Type).
	Type string

	// MaxConcurrency limits how many jobs of this type may run
	// simultaneously. Zero means no type-specific limit (the
	// scheduler-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained dispatches per second for
	// this type. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single job type.
type typeState struct {
	config  LimitConfig
	limiter *rate.Limiter
	active  int
}

// Limiter controls per-job-type rate limiting and concurrency.
// It is safe for concurrent use. Types without a config have no limits.
type Limiter struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewLimiter creates a Limiter with the given type configurations.
func NewLimiter(configs ...LimitConfig) *Limiter {
	l := &Limiter{types: make(map[string]*typeState, len(configs))}
	for _, cfg := range configs {
		l.types[cfg.Type] = newTypeState(cfg)
	}
	return l
}

func newTypeState(cfg LimitConfig) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate limits and concurrency for the given job type.
// If the dispatch may proceed it increments the active counter and
// returns true. The caller MUST call Release when the job completes.
func (l *Limiter) Acquire(jobType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.types[jobType]
	if ts == nil {
		return true
	}
	// Concurrency is checked before the token bucket so a denial on a
	// saturated type does not burn a rate token.
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active count for the job type.
func (l *Limiter) Release(jobType string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts := l.types[jobType]; ts != nil && ts.active > 0 {
		ts.active--
	}
}
