// Package persist defines the optional durability adapter that mirrors
// queue contents to an external store for crash recovery.
//
// Durability is explicitly best-effort: the scheduler issues Persist and
// Remove calls fire-and-forget, a failed mirror write is logged at Warn
// and never fails or blocks the in-memory operation. Callers who need
// write-ahead guarantees should treat this as a caveat, not a bug.
package persist

import (
	"context"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Adapter mirrors queue mutations to a durable external store.
type Adapter interface {
	// Persist mirrors a queued job. Called after a successful enqueue
	// or a retry re-enqueue.
	Persist(ctx context.Context, j *job.QueuedJob) error

	// Remove deletes a mirrored job. Called when a job reaches a
	// terminal state.
	Remove(ctx context.Context, jobID id.JobID) error

	// Recover returns all mirrored jobs for startup re-enqueue.
	Recover(ctx context.Context) ([]*job.QueuedJob, error)
}

// Noop is the default adapter. It stores nothing and recovers nothing;
// the scheduler works fully in-memory with it.
type Noop struct{}

var _ Adapter = (*Noop)(nil)

// NewNoop creates a no-op adapter.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) Persist(context.Context, *job.QueuedJob) error { return nil }

func (*Noop) Remove(context.Context, id.JobID) error { return nil }

func (*Noop) Recover(context.Context) ([]*job.QueuedJob, error) { return nil, nil }
