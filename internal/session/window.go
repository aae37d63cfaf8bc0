package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/breezehq/breeze/internal/log"
)

// WindowStore is the subset of the store the window builder needs.
type WindowStore interface {
	Window(ctx context.Context, sessionID uuid.UUID, limit int) ([]*Turn, error)
}

// Windows builds the bounded context window handed to the planner: the most
// recent turns of a session, oldest first. Results are cached per session;
// the cache entry stays valid until Invalidate is called after a finalize,
// since turns are immutable once written.
type Windows struct {
	store  WindowStore
	size   int
	logger log.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]cachedWindow
}

type cachedWindow struct {
	latestSeq int32
	turns     []*Turn
}

// NewWindows creates a window builder with the given default size.
func NewWindows(store WindowStore, size int, logger log.Logger) *Windows {
	return &Windows{
		store:  store,
		size:   size,
		logger: logger.With("component", "windows"),
		cache:  make(map[uuid.UUID]cachedWindow),
	}
}

// Size returns the default window size.
func (w *Windows) Size() int { return w.size }

// Build returns up to limit most recent turns, oldest first. limit <= 0 uses
// the default size. A session with fewer turns yields all of them; a fresh
// session yields an empty window. The returned slice is the caller's to keep;
// the cached copy is never aliased.
func (w *Windows) Build(ctx context.Context, sessionID uuid.UUID, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = w.size
	}

	// The cache holds up to the default size, so it can serve any smaller
	// request; larger requests go to the store.
	if limit <= w.size {
		w.mu.RLock()
		cached, ok := w.cache[sessionID]
		w.mu.RUnlock()
		if ok {
			return tail(cached.turns, limit), nil
		}
	}

	turns, err := w.store.Window(ctx, sessionID, max(limit, w.size))
	if err != nil {
		return nil, err
	}

	var latest int32
	if len(turns) > 0 {
		latest = turns[len(turns)-1].SequenceNumber
	}

	w.mu.Lock()
	w.cache[sessionID] = cachedWindow{latestSeq: latest, turns: turns}
	w.mu.Unlock()

	w.logger.Debug("context window built",
		"session_id", sessionID, "turns", len(turns), "latest_seq", latest)
	return tail(turns, limit), nil
}

// Invalidate drops the cached window for a session. Called after every
// finalize so the next Build sees the new turns.
func (w *Windows) Invalidate(sessionID uuid.UUID) {
	w.mu.Lock()
	delete(w.cache, sessionID)
	w.mu.Unlock()
}

// tail returns a copy of the last n turns of src, preserving order.
func tail(src []*Turn, n int) []*Turn {
	if n > len(src) {
		n = len(src)
	}
	out := make([]*Turn, n)
	copy(out, src[len(src)-n:])
	return out
}
