package conveyor

import "time"

// Config holds configuration for the scheduler core.
type Config struct {
	// QueueCapacity is the maximum number of pending jobs. Enqueue
	// rejects with ErrQueueFull once the queue reaches this size.
	QueueCapacity int

	// Concurrency is the maximum number of jobs executing at once.
	Concurrency int

	// HistorySize is the capacity of the terminal-outcome ring buffer.
	// Once full, each append evicts the oldest record.
	HistorySize int

	// SampleWindow is the number of recent execution durations retained
	// for the rolling latency percentiles.
	SampleWindow int

	// RequestTimeout bounds cheap external request/reply calls
	// (status, metrics, history, single-job operations).
	RequestTimeout time.Duration

	// BulkRequestTimeout bounds bulk external calls (retry-all, clear).
	BulkRequestTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs
	// during graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:      10_000,
		Concurrency:        10,
		HistorySize:        1_000,
		SampleWindow:       256,
		RequestTimeout:     100 * time.Millisecond,
		BulkRequestTimeout: 500 * time.Millisecond,
		ShutdownTimeout:    30 * time.Second,
	}
}
