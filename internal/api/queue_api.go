package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"clinicqueue/internal/database"
	"clinicqueue/internal/metrics"
	"clinicqueue/internal/models"
	"clinicqueue/internal/report"

	"github.com/gorilla/mux"
)

const (
	maxBookingBody  = 64 << 10
	maxHistoryLimit = 200
	defaultHistoryN = 20
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// QueueResponse is the body of GET /api/queue and POST /api/next-number.
type QueueResponse struct {
	Tokens        []models.Token `json:"tokens"`
	CurrentNumber int            `json:"currentNumber"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type historyResponse struct {
	Epochs []database.Epoch `json:"epochs"`
}

// handleQueue returns all tokens and the serving pointer.
// GET /api/queue
func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("queue")
	snap := s.queue.Snapshot()
	writeJSON(w, http.StatusOK, QueueResponse{Tokens: snap.Tokens, CurrentNumber: snap.CurrentNumber})
}

// handleSummary returns counts and the wait estimate for status boards.
// GET /api/queue/summary
func (s *HTTPServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("queue_summary")
	writeJSON(w, http.StatusOK, s.queue.Summary())
}

// handleBookToken books a token for a patient.
// POST /api/book-token
func (s *HTTPServer) handleBookToken(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("book_token")

	var in models.BookingInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBookingBody)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token, err := s.queue.BookToken(r.Context(), in)
	if err != nil {
		s.writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

// handleNextNumber advances the serving pointer.
// POST /api/next-number
func (s *HTTPServer) handleNextNumber(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("next_number")

	state, err := s.queue.Advance(r.Context())
	if err != nil {
		s.writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueResponse{Tokens: state.Tokens, CurrentNumber: state.CurrentNumber})
}

// handleResetQueue clears the queue and restarts numbering.
// POST /api/reset-queue
func (s *HTTPServer) handleResetQueue(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reset_queue")

	if err := s.queue.Reset(r.Context()); err != nil {
		s.writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleHistory lists archived epochs, newest first.
// GET /api/history?limit=N
func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("history")

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.history == nil {
		writeJSON(w, http.StatusOK, historyResponse{Epochs: []database.Epoch{}})
		return
	}

	epochs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read epoch history")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Epochs: epochs})
}

// handleHistoryEpoch returns one archived epoch with its tokens.
// GET /api/history/{id}
func (s *HTTPServer) handleHistoryEpoch(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("history_epoch")

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid epoch id")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "epoch not found")
		return
	}

	epoch, err := s.history.Epoch(r.Context(), id)
	if errors.Is(err, database.ErrEpochNotFound) {
		writeError(w, http.StatusNotFound, "epoch not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("epoch", id).Msg("Failed to read archived epoch")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	epoch.Tokens, err = s.history.Tokens(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Int64("epoch", id).Msg("Failed to read archived tokens")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, epoch)
}

// handleExport downloads the queue and recent history as a spreadsheet.
// GET /api/queue/export
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("queue_export")

	var epochs []database.Epoch
	if s.history != nil {
		var err error
		epochs, err = s.history.Recent(r.Context(), maxHistoryLimit)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to read epoch history for export")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	var buf bytes.Buffer
	if err := report.ExportQueue(&buf, s.queue.Snapshot(), epochs, s.opts.Location); err != nil {
		s.logger.Error().Err(err).Msg("Failed to build queue export")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	filename := fmt.Sprintf("queue-%s.xlsx", s.now().In(s.opts.Location).Format("20060102-1504"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryN, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}
