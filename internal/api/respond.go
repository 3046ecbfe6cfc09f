package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"clinicqueue/internal/queue"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeQueueError maps queue failures onto HTTP statuses.
func (s *HTTPServer) writeQueueError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *queue.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, queue.ErrEmptyQueue):
		writeError(w, http.StatusBadRequest, "No more patients in queue")
	case queue.IsPersistence(err):
		s.logger.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("Queue state not saved")
		writeError(w, http.StatusInternalServerError, "failed to save queue state")
	default:
		s.logger.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("Unexpected queue error")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
