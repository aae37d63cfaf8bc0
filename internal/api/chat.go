package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/stream"
)

const (
	maxChatBodyBytes  = 64 * 1024
	heartbeatInterval = 15 * time.Second
	maxAutoTitleRunes = 60
)

// chatHandler serves chat submission, the SSE event stream and cancellation.
type chatHandler struct {
	store   SessionStore
	runs    Runner
	streams Streams
	logger  log.Logger
}

type sendRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type sendResponse struct {
	RunID     uuid.UUID `json:"run_id"`
	TurnID    uuid.UUID `json:"turn_id"`
	SessionID uuid.UUID `json:"session_id"`
	State     string    `json:"state"`
}

// send accepts a chat message and starts a run. The response is 202: the
// run executes asynchronously and progress arrives on the event stream.
// Omitting session_id creates a fresh session titled from the message.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req sendRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "empty_message", "message text is required", h.logger)
		return
	}

	var sessionID uuid.UUID
	if req.SessionID == "" {
		sess, err := h.store.CreateSession(r.Context(), userID, autoTitle(req.Message))
		if err != nil {
			writeDomainError(w, err, h.logger)
			return
		}
		sessionID = sess.ID
	} else {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID", h.logger)
			return
		}
		sessionID = id
	}

	run, err := h.runs.Submit(r.Context(), sessionID, userID, req.Message)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	h.logger.Info("run submitted",
		"run_id", run.ID, "session_id", sessionID, "turn_id", run.TurnID())
	writeJSON(w, http.StatusAccepted, sendResponse{
		RunID:     run.ID,
		TurnID:    run.TurnID(),
		SessionID: sessionID,
		State:     string(run.State()),
	}, h.logger)
}

type cancelRequest struct {
	SessionID string `json:"session_id"`
}

// cancel requests cooperative cancellation of the session's active run.
func (h *chatHandler) cancel(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req cancelRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID", h.logger)
		return
	}
	if _, err := h.store.SessionForOwner(r.Context(), sessionID, userID); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	if err := h.runs.Cancel(sessionID); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"}, h.logger)
}

// stream serves the SSE event stream for the session's active (or recently
// finished) run. Reconnecting clients pass the last sequence they saw via
// the last_seen query parameter or the Last-Event-ID header; missed events
// still in the replay buffer are delivered first, and a gap beyond retention
// yields a single resync event instead.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID", h.logger)
		return
	}
	if _, err := h.store.SessionForOwner(r.Context(), sessionID, userID); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	lastSeen := parseLastSeen(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", h.logger)
		return
	}

	sub, err := h.streams.Attach(sessionID, lastSeen)
	if err != nil {
		if errors.Is(err, stream.ErrNoActiveRun) {
			writeError(w, http.StatusNotFound, "no_active_run", "no active run for this session", h.logger)
			return
		}
		writeDomainError(w, err, h.logger)
		return
	}
	defer h.streams.Detach(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("sse stream attached",
		"session_id", sessionID, "last_seen", lastSeen)

	ctx := r.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("sse client disconnected", "session_id", sessionID)
			return

		case <-heartbeat.C:
			// Comment line keeps intermediaries from timing out the stream.
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev, open := <-sub.Events():
			if !open {
				if sub.Dropped() {
					h.logger.Warn("sse subscriber dropped, too slow", "session_id", sessionID)
				}
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes one event in SSE framing. Run events carry their sequence
// as the SSE id so EventSource reconnects resume via Last-Event-ID;
// synthesized resync events have no id.
func writeSSE(w http.ResponseWriter, ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if ev.Sequence >= 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.Sequence); err != nil {
			return fmt.Errorf("writing event: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// parseLastSeen resolves the client's replay position. The Last-Event-ID
// header, set automatically by EventSource on reconnect, wins over the
// last_seen query parameter. Absent both, -1 requests the full buffer.
func parseLastSeen(r *http.Request) int64 {
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	if v := r.URL.Query().Get("last_seen"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return -1
}

// autoTitle derives a session title from the first message.
func autoTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > maxAutoTitleRunes {
		title = string(runes[:maxAutoTitleRunes]) + "…"
	}
	return title
}
