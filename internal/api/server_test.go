package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/run"
	"github.com/breezehq/breeze/internal/session"
	"github.com/breezehq/breeze/internal/stream"
)

type fakeStore struct {
	sessions map[uuid.UUID]*session.Session
	turns    map[uuid.UUID][]*session.Turn

	createdTitles []string
	renamed       map[uuid.UUID]string
	archived      []uuid.UUID
	deleted       []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[uuid.UUID]*session.Session),
		turns:    make(map[uuid.UUID][]*session.Turn),
		renamed:  make(map[uuid.UUID]string),
	}
}

func (f *fakeStore) add(ownerID string) *session.Session {
	sess := &session.Session{ID: uuid.New(), OwnerID: ownerID, Title: "t"}
	f.sessions[sess.ID] = sess
	return sess
}

func (f *fakeStore) CreateSession(_ context.Context, ownerID, title string) (*session.Session, error) {
	f.createdTitles = append(f.createdTitles, title)
	sess := &session.Session{ID: uuid.New(), OwnerID: ownerID, Title: title}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeStore) SessionForOwner(_ context.Context, id uuid.UUID, ownerID string) (*session.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if sess.OwnerID != ownerID {
		return nil, session.ErrNotOwner
	}
	return sess, nil
}

func (f *fakeStore) ListSessions(_ context.Context, ownerID string, _ bool) ([]*session.Session, error) {
	var out []*session.Session
	for _, s := range f.sessions {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) SetTitle(_ context.Context, id uuid.UUID, title string) error {
	f.renamed[id] = title
	return nil
}

func (f *fakeStore) ArchiveSession(_ context.Context, id uuid.UUID) error {
	f.archived = append(f.archived, id)
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) Turns(_ context.Context, sessionID uuid.UUID) ([]*session.Turn, error) {
	return f.turns[sessionID], nil
}

func (f *fakeStore) Stats(context.Context) (session.Stats, error) {
	return session.Stats{Sessions: int64(len(f.sessions)), Turns: 7}, nil
}

type fakeRunner struct {
	run       *run.Run
	submitErr error
	cancelErr error

	lastSessionID uuid.UUID
	lastText      string
}

func (f *fakeRunner) Submit(_ context.Context, sessionID uuid.UUID, _, text string) (*run.Run, error) {
	f.lastSessionID = sessionID
	f.lastText = text
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.run == nil {
		f.run = &run.Run{ID: uuid.New(), SessionID: sessionID}
	}
	return f.run, nil
}

func (f *fakeRunner) Cancel(uuid.UUID) error { return f.cancelErr }

type testEnv struct {
	store  *fakeStore
	runner *fakeRunner
	pub    *stream.Publisher
	srv    *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	runner := &fakeRunner{}
	pub := stream.NewPublisher(log.NewNop())
	srv, err := NewServer(ServerConfig{
		Logger:  log.NewNop(),
		Store:   store,
		Runs:    runner,
		Streams: pub,
	})
	require.NoError(t, err)
	return &testEnv{store: store, runner: runner, pub: pub, srv: srv}
}

// do performs a request as the given user by presetting the uid cookie.
func (e *testEnv) do(req *http.Request, userID string) *httptest.ResponseRecorder {
	if userID != "" {
		req.AddCookie(&http.Cookie{Name: userCookieName, Value: userID})
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)

	_, err = NewServer(ServerConfig{Store: newFakeStore()})
	assert.Error(t, err)

	_, err = NewServer(ServerConfig{Store: newFakeStore(), Runs: &fakeRunner{}})
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	// No pool configured: readiness degrades to plain ok.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/ready", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserCookieProvisioned(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var uid string
	for _, c := range rec.Result().Cookies() {
		if c.Name == userCookieName {
			uid = c.Value
		}
	}
	require.NotEmpty(t, uid)
	_, err := uuid.Parse(uid)
	assert.NoError(t, err)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil), "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = env.do(req, "")
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	store := newFakeStore()
	srv, err := NewServer(ServerConfig{
		Logger:      log.NewNop(),
		Store:       store,
		Runs:        &fakeRunner{},
		Streams:     stream.NewPublisher(log.NewNop()),
		CORSOrigins: []string{"https://app.example.com"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Unlisted origins get no CORS headers.
	req = httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	store := newFakeStore()
	srv, err := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Store:     store,
		Runs:      &fakeRunner{},
		Streams:   stream.NewPublisher(log.NewNop()),
		RateBurst: 2,
	})
	require.NoError(t, err)

	get := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get())
	assert.Equal(t, http.StatusOK, get())
	assert.Equal(t, http.StatusTooManyRequests, get())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Real-IP", "198.51.100.7")
	req.Header.Set("X-Forwarded-For", "203.0.113.20, 10.0.0.1")

	assert.Equal(t, "192.0.2.1", clientIP(req, false), "headers ignored without trustProxy")
	assert.Equal(t, "198.51.100.7", clientIP(req, true), "X-Real-IP wins")

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "203.0.113.20", clientIP(req, true), "first X-Forwarded-For entry")

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "192.0.2.1", clientIP(req, true), "garbage headers fall back to RemoteAddr")
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(log.NewNop())(panicky)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}
