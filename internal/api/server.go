// Package api serves the JSON and SSE HTTP surface: chat submission, the
// event stream, session CRUD and operational probes.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/run"
	"github.com/breezehq/breeze/internal/session"
	"github.com/breezehq/breeze/internal/stream"
)

// SessionStore is the session persistence surface the handlers need.
type SessionStore interface {
	CreateSession(ctx context.Context, ownerID, title string) (*session.Session, error)
	SessionForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*session.Session, error)
	ListSessions(ctx context.Context, ownerID string, includeArchived bool) ([]*session.Session, error)
	SetTitle(ctx context.Context, id uuid.UUID, title string) error
	ArchiveSession(ctx context.Context, id uuid.UUID) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	Turns(ctx context.Context, sessionID uuid.UUID) ([]*session.Turn, error)
	Stats(ctx context.Context) (session.Stats, error)
}

// Runner submits and cancels agent runs.
type Runner interface {
	Submit(ctx context.Context, sessionID uuid.UUID, ownerID, text string) (*run.Run, error)
	Cancel(sessionID uuid.UUID) error
}

// Streams attaches SSE subscribers to run event streams.
type Streams interface {
	Attach(sessionID uuid.UUID, lastSeen int64) (*stream.Subscriber, error)
	Detach(sub *stream.Subscriber)
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger      log.Logger
	Store       SessionStore  // required
	Runs        Runner        // required
	Streams     Streams       // required
	Pool        *pgxpool.Pool // optional: nil disables pool stats in /ready
	CORSOrigins []string
	TrustProxy  bool
	RateBurst   int // 0 = default 60
}

// Server is the HTTP server for the chat API.
type Server struct {
	mux *http.ServeMux
}

// NewServer wires routes and the middleware stack.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Runs == nil {
		return nil, errors.New("run controller is required")
	}
	if cfg.Streams == nil {
		return nil, errors.New("stream publisher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{
		store:   cfg.Store,
		runs:    cfg.Runs,
		streams: cfg.Streams,
		logger:  logger.With("component", "chat_api"),
	}
	sh := &sessionHandler{
		store:  cfg.Store,
		logger: logger.With("component", "session_api"),
	}

	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("GET /api/v1/chat/stream", ch.stream)
	mux.HandleFunc("POST /api/v1/chat/cancel", ch.cancel)

	// Session CRUD
	mux.HandleFunc("GET /api/v1/sessions", sh.list)
	mux.HandleFunc("POST /api/v1/sessions", sh.create)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", sh.rename)
	mux.HandleFunc("POST /api/v1/sessions/{id}/archive", sh.archive)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)
	mux.HandleFunc("GET /api/v1/sessions/{id}/turns", sh.turns)

	// Stats
	mux.HandleFunc("GET /api/v1/stats", sh.stats)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → CORS → RateLimit → User → Routes
	// RequestID precedes Logging so request_id appears in log attributes;
	// CORS precedes RateLimit so preflight OPTIONS always gets its headers.
	var handler http.Handler = mux
	handler = userMiddleware()(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
