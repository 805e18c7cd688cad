package job

import (
	"time"

	"github.com/conveyorhq/conveyor/id"
)

// Status represents the live state of a job. Terminal outcomes are not
// tracked as a live status; they are recorded into history and, for
// permanent failures, the dead letter store.
type Status string

const (
	// StatusPending means the job is waiting in the priority queue.
	StatusPending Status = "pending"
	// StatusRunning means a worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusRetrying means the job failed and is parked in its backoff
	// delay before re-entering the queue.
	StatusRetrying Status = "retrying"
)

// QueuedJob is a unit of work owned by exactly one store at a time:
// the priority queue, the running set, or the dead letter store.
type QueuedJob struct {
	ID         id.JobID      `json:"id" msgpack:"id"`
	Type       string        `json:"type" msgpack:"type"`
	Payload    []byte        `json:"payload" msgpack:"payload"`
	Priority   int           `json:"priority" msgpack:"priority"`
	MaxRetries int           `json:"max_retries" msgpack:"max_retries"`
	Timeout    time.Duration `json:"timeout" msgpack:"timeout"`
	EnqueuedAt time.Time     `json:"enqueued_at" msgpack:"enqueued_at"`

	// Attempt counts failed executions so far. It starts at 0, is
	// monotonically non-decreasing while the job is alive, and resets
	// to 0 only through an explicit retry-from-dead-letter action.
	Attempt int `json:"attempt" msgpack:"attempt"`
}
