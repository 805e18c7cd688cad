// Package history keeps a bounded, append-only record of terminal job
// outcomes with pagination and substring search.
package history

import (
	"strings"
	"time"

	"github.com/conveyorhq/conveyor/id"
)

// Outcome is the terminal state recorded for a finished job.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Record is an immutable projection of a finished job. Once appended it
// is never mutated.
type Record struct {
	ID         id.JobID      `json:"id"`
	JobType    string        `json:"job_type"`
	Outcome    Outcome       `json:"outcome"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Page is one page of history records, newest first.
type Page struct {
	Records  []Record `json:"records"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Total    int      `json:"total"`
}

// Ring is a fixed-capacity FIFO of Records. Once full, each Append
// evicts exactly the oldest record. It is not safe for concurrent use;
// the scheduler loop is its single owner.
type Ring struct {
	records  []Record
	capacity int
	start    int // index of the oldest record
	count    int
}

// NewRing creates a Ring retaining at most capacity records.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		records:  make([]Record, capacity),
		capacity: capacity,
	}
}

// Append adds a record, evicting the oldest if the ring is full.
func (r *Ring) Append(rec Record) {
	idx := (r.start + r.count) % r.capacity
	r.records[idx] = rec
	if r.count < r.capacity {
		r.count++
		return
	}
	r.start = (r.start + 1) % r.capacity
}

// Len returns the number of retained records.
func (r *Ring) Len() int { return r.count }

// at returns the i-th retained record, 0 = oldest.
func (r *Ring) at(i int) Record {
	return r.records[(r.start+i)%r.capacity]
}

// matches reports whether a record matches the search term. Matching is
// a case-insensitive substring test against the job type, the job id
// and the error summary.
func matches(rec Record, term string) bool {
	if term == "" {
		return true
	}
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(rec.JobType), term) {
		return true
	}
	if strings.Contains(strings.ToLower(rec.ID.String()), term) {
		return true
	}
	return strings.Contains(strings.ToLower(rec.Error), term)
}

// GetPage returns the requested page of retained records, newest first.
// Pages are 1-indexed; page values below 1 are treated as 1. Total
// counts currently retained matching records only (evicted records are
// reflected in metrics, not here).
func (r *Ring) GetPage(page, pageSize int, search string) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	// Walk newest to oldest so adjacent pages never skip or repeat
	// records within one snapshot.
	matched := make([]Record, 0, r.count)
	for i := r.count - 1; i >= 0; i-- {
		rec := r.at(i)
		if matches(rec, search) {
			matched = append(matched, rec)
		}
	}

	total := len(matched)
	lo := (page - 1) * pageSize
	if lo >= total {
		return Page{Records: []Record{}, Page: page, PageSize: pageSize, Total: total}
	}
	hi := min(lo+pageSize, total)

	out := make([]Record, hi-lo)
	copy(out, matched[lo:hi])
	return Page{Records: out, Page: page, PageSize: pageSize, Total: total}
}
