// Package metrics aggregates lifecycle counters, live gauges and a
// rolling window of execution durations for percentile estimates.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is a consistent copy of all metrics at one instant.
type Snapshot struct {
	Enqueued     uint64 `json:"jobs_enqueued"`
	Rejected     uint64 `json:"jobs_rejected"`
	Completed    uint64 `json:"jobs_completed"`
	Failed       uint64 `json:"jobs_failed"`
	Retried      uint64 `json:"jobs_retried"`
	Cancelled    uint64 `json:"jobs_cancelled"`
	DeadLettered uint64 `json:"jobs_dead_lettered"`

	Running   int `json:"current_running"`
	QueueSize int `json:"current_queue_size"`
	DLQSize   int `json:"current_dlq_size"`

	AvgMS float64 `json:"avg_execution_ms"`
	P95MS float64 `json:"p95_execution_ms"`
	P99MS float64 `json:"p99_execution_ms"`
}

// Aggregator tracks counters and a bounded ring of recent execution
// durations. Counters are monotonic; gauges and the duration window
// reflect current state. Safe for concurrent use: the scheduler loop
// writes, boundary callers read via Snapshot.
type Aggregator struct {
	mu sync.RWMutex

	enqueued     uint64
	rejected     uint64
	completed    uint64
	failed       uint64
	retried      uint64
	cancelled    uint64
	deadLettered uint64

	running   int
	queueSize int
	dlqSize   int

	// Fixed-size ring of the most recent execution durations. The
	// window makes percentile figures deterministic for a fixed
	// input sequence.
	samples []time.Duration
	next    int
	filled  int
}

// NewAggregator creates an Aggregator sampling the last window
// execution durations for percentile figures.
func NewAggregator(window int) *Aggregator {
	if window < 1 {
		window = 1
	}
	return &Aggregator{samples: make([]time.Duration, window)}
}

func (a *Aggregator) IncEnqueued()     { a.inc(&a.enqueued) }
func (a *Aggregator) IncRejected()     { a.inc(&a.rejected) }
func (a *Aggregator) IncRetried()      { a.inc(&a.retried) }
func (a *Aggregator) IncCancelled()    { a.inc(&a.cancelled) }
func (a *Aggregator) IncDeadLettered() { a.inc(&a.deadLettered) }

func (a *Aggregator) inc(counter *uint64) {
	a.mu.Lock()
	*counter++
	a.mu.Unlock()
}

// IncCompleted records a successful execution and its duration sample.
func (a *Aggregator) IncCompleted(d time.Duration) {
	a.mu.Lock()
	a.completed++
	a.record(d)
	a.mu.Unlock()
}

// IncFailed records a terminally failed execution and its duration
// sample. Retryable failures go through IncRetried instead.
func (a *Aggregator) IncFailed(d time.Duration) {
	a.mu.Lock()
	a.failed++
	a.record(d)
	a.mu.Unlock()
}

func (a *Aggregator) record(d time.Duration) {
	a.samples[a.next] = d
	a.next = (a.next + 1) % len(a.samples)
	if a.filled < len(a.samples) {
		a.filled++
	}
}

// SetGauges updates the live gauges. Called by the scheduler loop after
// each handled message.
func (a *Aggregator) SetGauges(running, queueSize, dlqSize int) {
	a.mu.Lock()
	a.running = running
	a.queueSize = queueSize
	a.dlqSize = dlqSize
	a.mu.Unlock()
}

// Snapshot returns a consistent copy of every counter, gauge and
// percentile figure. Percentiles use the nearest-rank method over the
// current sample window.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Snapshot{
		Enqueued:     a.enqueued,
		Rejected:     a.rejected,
		Completed:    a.completed,
		Failed:       a.failed,
		Retried:      a.retried,
		Cancelled:    a.cancelled,
		DeadLettered: a.deadLettered,
		Running:      a.running,
		QueueSize:    a.queueSize,
		DLQSize:      a.dlqSize,
	}

	if a.filled == 0 {
		return s
	}

	sorted := make([]time.Duration, a.filled)
	copy(sorted, a.samples[:a.filled])
	sort.Slice(sorted, func(i, k int) bool { return sorted[i] < sorted[k] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	s.AvgMS = float64(sum.Microseconds()) / float64(a.filled) / 1000
	s.P95MS = float64(nearestRank(sorted, 95).Microseconds()) / 1000
	s.P99MS = float64(nearestRank(sorted, 99).Microseconds()) / 1000
	return s
}

// nearestRank returns the p-th percentile of a sorted slice using the
// nearest-rank method: the value at ceil(p/100 * n), 1-indexed.
func nearestRank(sorted []time.Duration, p int) time.Duration {
	n := len(sorted)
	rank := (p*n + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
