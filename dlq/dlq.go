// Package dlq holds jobs that exhausted their retry budget, keeping the
// full job alongside the final error so entries can be inspected and
// retried.
package dlq

import (
	"time"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Entry is a dead-lettered job. The original QueuedJob is kept intact
// so a retry can re-enqueue it with its attempt counter reset.
type Entry struct {
	ID       id.DLQID       `json:"id"`
	Job      *job.QueuedJob `json:"job"`
	Error    string         `json:"error"`
	FailedAt time.Time      `json:"failed_at"`
}

// Store is the in-memory dead letter store. Entries are addressed by
// the original job id. Insertion order is preserved for listing and
// bulk retry. Not safe for concurrent use; the scheduler loop is its
// single owner.
type Store struct {
	order []id.JobID
	byJob map[id.JobID]*Entry
}

// NewStore creates an empty dead letter store.
func NewStore() *Store {
	return &Store{byJob: make(map[id.JobID]*Entry)}
}

// Add inserts a new entry for a terminally failed job.
func (s *Store) Add(j *job.QueuedJob, jobErr error) *Entry {
	e := &Entry{
		ID:       id.NewDLQID(),
		Job:      j,
		Error:    jobErr.Error(),
		FailedAt: time.Now().UTC(),
	}
	if _, ok := s.byJob[j.ID]; !ok {
		s.order = append(s.order, j.ID)
	}
	s.byJob[j.ID] = e
	return e
}

// Get returns the entry for a job id, if present.
func (s *Store) Get(jobID id.JobID) (*Entry, bool) {
	e, ok := s.byJob[jobID]
	return e, ok
}

// Remove deletes and returns the entry for a job id. Absent ids return
// false with no mutation.
func (s *Store) Remove(jobID id.JobID) (*Entry, bool) {
	e, ok := s.byJob[jobID]
	if !ok {
		return nil, false
	}
	delete(s.byJob, jobID)
	for i, jid := range s.order {
		if jid == jobID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return e, true
}

// Contains reports whether a job id is dead-lettered.
func (s *Store) Contains(jobID id.JobID) bool {
	_, ok := s.byJob[jobID]
	return ok
}

// List returns all entries in insertion order (oldest first).
func (s *Store) List() []*Entry {
	out := make([]*Entry, 0, len(s.order))
	for _, jid := range s.order {
		out = append(out, s.byJob[jid])
	}
	return out
}

// Drain removes and returns all entries in insertion order.
func (s *Store) Drain() []*Entry {
	out := s.List()
	s.order = s.order[:0]
	clear(s.byJob)
	return out
}

// Clear discards all entries and returns how many were removed.
func (s *Store) Clear() int {
	n := len(s.byJob)
	s.order = s.order[:0]
	clear(s.byJob)
	return n
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.byJob) }
