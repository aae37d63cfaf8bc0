package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/breezehq/breeze/internal/log"
)

// sessionHandler serves session CRUD, turn history and stats.
type sessionHandler struct {
	store  SessionStore
	logger log.Logger
}

// ownedSession parses the {id} path value and checks the session belongs to
// the calling user.
func (h *sessionHandler) ownedSession(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, _ := userIDFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID", h.logger)
		return uuid.Nil, false
	}
	if _, err := h.store.SessionForOwner(r.Context(), id, userID); err != nil {
		writeDomainError(w, err, h.logger)
		return uuid.Nil, false
	}
	return id, true
}

func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	sessions, err := h.store.ListSessions(r.Context(), userID, includeArchived)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions}, h.logger)
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req createSessionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New conversation"
	}

	sess, err := h.store.CreateSession(r.Context(), userID, title)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	h.logger.Info("session created", "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, sess, h.logger)
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID", h.logger)
		return
	}

	sess, err := h.store.SessionForOwner(r.Context(), id, userID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, sess, h.logger)
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

func (h *sessionHandler) rename(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	var req renameSessionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "empty_title", "title is required", h.logger)
		return
	}

	if err := h.store.SetTitle(r.Context(), id, title); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"}, h.logger)
}

func (h *sessionHandler) archive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	if err := h.store.ArchiveSession(r.Context(), id); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	h.logger.Info("session archived", "session_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"}, h.logger)
}

func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteSession(r.Context(), id); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	h.logger.Info("session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// turns returns the session's full history, steps and tool calls included,
// ordered by sequence number. Clients use it to rebuild state after a resync.
func (h *sessionHandler) turns(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	turns, err := h.store.Turns(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns}, h.logger)
}

func (h *sessionHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, stats, h.logger)
}
