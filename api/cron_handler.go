package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conveyorhq/conveyor/cron"
	"github.com/conveyorhq/conveyor/id"
)

// RegisterCronRequest is the body of POST /v1/crons.
type RegisterCronRequest struct {
	Name       string          `json:"name"`
	Schedule   string          `json:"schedule"`
	JobType    string          `json:"job_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   *int            `json:"priority,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	TimeoutMS  *int64          `json:"timeout_ms,omitempty"`
}

// RegisterCronResponse is the body of a successful registration.
type RegisterCronResponse struct {
	ID id.CronID `json:"id"`
}

// ListCronsResponse is the body of GET /v1/crons.
type ListCronsResponse struct {
	Entries []cron.Entry `json:"entries"`
	Total   int          `json:"total"`
}

func (a *API) registerCron(w http.ResponseWriter, r *http.Request) {
	var req RegisterCronRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Schedule == "" || req.JobType == "" {
		a.respondError(w, http.StatusBadRequest, "name, schedule and job_type are required")
		return
	}

	var opts []cron.EntryOption
	if req.Priority != nil {
		opts = append(opts, cron.WithPriority(*req.Priority))
	}
	if req.MaxRetries != nil {
		opts = append(opts, cron.WithMaxRetries(*req.MaxRetries))
	}
	if req.TimeoutMS != nil {
		opts = append(opts, cron.WithTimeout(time.Duration(*req.TimeoutMS)*time.Millisecond))
	}

	cronID, err := a.crons.Register(req.Name, req.Schedule, req.JobType, req.Payload, opts...)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.respondJSON(w, http.StatusCreated, RegisterCronResponse{ID: cronID})
}

func (a *API) listCrons(w http.ResponseWriter, _ *http.Request) {
	entries := a.crons.List()
	a.respondJSON(w, http.StatusOK, ListCronsResponse{Entries: entries, Total: len(entries)})
}

func (a *API) getCron(w http.ResponseWriter, r *http.Request) {
	cronID, err := id.ParseCronID(chi.URLParam(r, "cronID"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid cron id")
		return
	}
	e, err := a.crons.Get(cronID)
	if err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, e)
}

func (a *API) unregisterCron(w http.ResponseWriter, r *http.Request) {
	cronID, err := id.ParseCronID(chi.URLParam(r, "cronID"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid cron id")
		return
	}
	if err := a.crons.Unregister(cronID); err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) enableCron(w http.ResponseWriter, r *http.Request) {
	a.setCronEnabled(w, r, true)
}

func (a *API) disableCron(w http.ResponseWriter, r *http.Request) {
	a.setCronEnabled(w, r, false)
}

func (a *API) setCronEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	cronID, err := id.ParseCronID(chi.URLParam(r, "cronID"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid cron id")
		return
	}
	if err := a.crons.SetEnabled(cronID, enabled); err != nil {
		a.respondSchedulerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
