package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/conveyorhq/conveyor"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (a *API) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("encode response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, message string) {
	a.respondJSON(w, status, ErrorResponse{Error: message})
}

// respondSchedulerError maps scheduler sentinel errors onto HTTP status
// codes.
func (a *API) respondSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conveyor.ErrJobNotFound), errors.Is(err, conveyor.ErrCronNotFound):
		a.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, conveyor.ErrQueueFull):
		a.respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, conveyor.ErrUnavailable), errors.Is(err, conveyor.ErrSchedulerStopped):
		a.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.logger.Error("request failed", "error", err)
		a.respondError(w, http.StatusInternalServerError, "internal error")
	}
}
