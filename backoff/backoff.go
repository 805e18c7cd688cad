// Package backoff provides the retry delay policies consulted by the
// scheduler before a failed job re-enters the queue. All strategies are
// stateless and safe for concurrent use.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows the delay linearly: min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt:
// min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		// Overflow or past the cap: clamp and stop doubling.
		if d <= 0 || (e.Max > 0 && d >= e.Max) {
			if e.Max > 0 {
				return e.Max
			}
			return e.Initial
		}
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Jitter
// ──────────────────────────────────────────────────

// Jitter wraps another strategy with full jitter: the delay becomes a
// random value in [0, base). This spreads simultaneous retries so they
// do not hit a struggling downstream in lockstep.
type Jitter struct {
	Base Strategy
}

// WithJitter applies full jitter to an existing strategy.
func WithJitter(base Strategy) *Jitter {
	return &Jitter{Base: base}
}

// Delay returns a random duration in [0, Base.Delay(attempt)).
func (j *Jitter) Delay(attempt int) time.Duration {
	base := j.Base.Delay(attempt)
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(base))) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy is the scheduler's default policy: exponential with
// full jitter, 1s initial and 1m cap.
func DefaultStrategy() Strategy {
	return WithJitter(NewExponential(1*time.Second, 1*time.Minute))
}
