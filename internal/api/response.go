package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/run"
	"github.com/breezehq/breeze/internal/session"
)

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeJSON writes a JSON response. Encoding happens into a buffer first so
// headers are only sent after a successful encode.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("writing response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body, logger)
}

// writeDomainError maps known domain errors onto HTTP statuses and stable
// error codes.
func writeDomainError(w http.ResponseWriter, err error, logger log.Logger) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "session not found", logger)
	case errors.Is(err, session.ErrTurnNotFound):
		writeError(w, http.StatusNotFound, "turn_not_found", "turn not found", logger)
	case errors.Is(err, session.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner", "session belongs to another user", logger)
	case errors.Is(err, session.ErrSessionArchived):
		writeError(w, http.StatusConflict, "session_archived", "session is archived", logger)
	case errors.Is(err, session.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, "empty_message", "message text is required", logger)
	case errors.Is(err, run.ErrRunInProgress):
		writeError(w, http.StatusConflict, "run_in_progress", "a run is already in progress for this session", logger)
	case errors.Is(err, run.ErrNoActiveRun):
		writeError(w, http.StatusNotFound, "no_active_run", "no active run for this session", logger)
	case errors.Is(err, run.ErrControllerClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down", logger)
	default:
		logger.Error("unhandled API error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
	}
}
