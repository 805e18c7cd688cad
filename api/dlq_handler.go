package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/id"
)

// DeadLettersResponse is the body of GET /v1/dlq.
type DeadLettersResponse struct {
	Entries []*dlq.Entry `json:"entries"`
	Total   int          `json:"total"`
}

// RetryResponse reports how many dead letters were requeued.
type RetryResponse struct {
	Retried int `json:"retried"`
}

// ClearResponse reports how many dead letters were discarded.
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

func (a *API) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := a.sched.DeadLetters(r.Context())
	if err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, DeadLettersResponse{Entries: entries, Total: len(entries)})
}

func (a *API) retryDeadLetter(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	ok, err := a.sched.RetryJob(r.Context(), jobID)
	if err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	if !ok {
		// Unknown id and full queue both refuse; the DLQ listing
		// disambiguates for the caller.
		a.respondError(w, http.StatusConflict, "job not retried")
		return
	}
	a.respondJSON(w, http.StatusOK, RetryResponse{Retried: 1})
}

func (a *API) retryAllDeadLetters(w http.ResponseWriter, r *http.Request) {
	n, err := a.sched.RetryAllFailed(r.Context())
	if err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, RetryResponse{Retried: n})
}

func (a *API) clearDeadLetters(w http.ResponseWriter, r *http.Request) {
	n, err := a.sched.ClearDeadLetters(r.Context())
	if err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, ClearResponse{Cleared: n})
}
