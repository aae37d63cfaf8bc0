package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezehq/breeze/internal/session"
)

func TestSessions_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(postJSON("/api/v1/sessions", `{"title":"Trip planning"}`), testUser)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Trip planning", created.Title)

	rec = env.do(httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/"+created.ID.String(), nil), testUser)
	require.Equal(t, http.StatusOK, rec.Code)

	// Empty title falls back to a default.
	rec = env.do(postJSON("/api/v1/sessions", `{}`), testUser)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "New conversation")
}

func TestSessions_List(t *testing.T) {
	env := newTestEnv(t)
	env.store.add(testUser)
	env.store.add(testUser)
	env.store.add("someone-else")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil), testUser)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []*session.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 2, "only the caller's sessions")
}

func TestSessions_Rename(t *testing.T) {
	env := newTestEnv(t)
	sess := env.store.add(testUser)

	req := httptest.NewRequest(http.MethodPatch,
		"/api/v1/sessions/"+sess.ID.String(), strings.NewReader(`{"title":"Renamed"}`))
	rec := env.do(req, testUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", env.store.renamed[sess.ID])

	req = httptest.NewRequest(http.MethodPatch,
		"/api/v1/sessions/"+sess.ID.String(), strings.NewReader(`{"title":"  "}`))
	rec = env.do(req, testUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessions_ArchiveAndDelete(t *testing.T) {
	env := newTestEnv(t)
	sess := env.store.add(testUser)

	rec := env.do(postJSON("/api/v1/sessions/"+sess.ID.String()+"/archive", `{}`), testUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, env.store.archived, sess.ID)

	rec = env.do(httptest.NewRequest(http.MethodDelete,
		"/api/v1/sessions/"+sess.ID.String(), nil), testUser)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, env.store.deleted, sess.ID)
}

func TestSessions_OwnershipEnforced(t *testing.T) {
	env := newTestEnv(t)
	sess := env.store.add("someone-else")

	rec := env.do(httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/"+sess.ID.String(), nil), testUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodDelete,
		"/api/v1/sessions/"+sess.ID.String(), nil), testUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, env.store.deleted)
}

func TestSessions_NotFoundAndBadID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/"+uuid.New().String(), nil), testUser)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/not-a-uuid", nil), testUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessions_Turns(t *testing.T) {
	env := newTestEnv(t)
	sess := env.store.add(testUser)
	env.store.turns[sess.ID] = []*session.Turn{
		{ID: uuid.New(), SessionID: sess.ID, Role: session.RoleUser, Content: "Weather in Paris?", SequenceNumber: 1},
		{ID: uuid.New(), SessionID: sess.ID, Role: session.RoleAgent, Content: "It's 18°C.", SequenceNumber: 2},
	}

	rec := env.do(httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/"+sess.ID.String()+"/turns", nil), testUser)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Turns []*session.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Turns, 2)
	assert.Equal(t, session.RoleAgent, resp.Turns[1].Role)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.store.add(testUser)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil), testUser)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats session.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Sessions)
	assert.Equal(t, int64(7), stats.Turns)
}
