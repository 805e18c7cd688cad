package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// EnqueueRequest is the body of POST /v1/jobs.
type EnqueueRequest struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   *int            `json:"priority,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	TimeoutMS  *int64          `json:"timeout_ms,omitempty"`
}

// EnqueueResponse is the body of a successful enqueue.
type EnqueueResponse struct {
	ID     id.JobID   `json:"id"`
	Status job.Status `json:"status"`
}

// StatusResponse is the body of GET /v1/jobs/{jobID}.
type StatusResponse struct {
	ID     id.JobID   `json:"id"`
	Status job.Status `json:"status"`
}

func (a *API) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Type == "" {
		a.respondError(w, http.StatusBadRequest, "type is required")
		return
	}

	var opts []job.Option
	if req.Priority != nil {
		opts = append(opts, job.WithPriority(*req.Priority))
	}
	if req.MaxRetries != nil {
		opts = append(opts, job.WithMaxRetries(*req.MaxRetries))
	}
	if req.TimeoutMS != nil {
		opts = append(opts, job.WithTimeout(time.Duration(*req.TimeoutMS)*time.Millisecond))
	}

	jobID, err := a.sched.Enqueue(r.Context(), req.Type, req.Payload, opts...)
	if err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	a.respondJSON(w, http.StatusAccepted, EnqueueResponse{ID: jobID, Status: job.StatusPending})
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	status, err := a.sched.Status(r.Context(), jobID)
	if err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, StatusResponse{ID: jobID, Status: status})
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	ok, err := a.sched.CancelJob(r.Context(), jobID)
	if err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	if !ok {
		a.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	pageSize := queryInt(q.Get("page_size"), 20)
	search := q.Get("search")

	p, err := a.sched.History(r.Context(), page, pageSize, search)
	if err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, p)
}

func (a *API) getMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := a.sched.Metrics(r.Context())
	if err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, snap)
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
