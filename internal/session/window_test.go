package session

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezehq/breeze/internal/log"
)

// fakeWindowStore serves canned turns and counts store round trips.
type fakeWindowStore struct {
	turns   map[uuid.UUID][]*Turn
	queries int
}

func (f *fakeWindowStore) Window(_ context.Context, sessionID uuid.UUID, limit int) ([]*Turn, error) {
	f.queries++
	turns, ok := f.turns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if limit < len(turns) {
		turns = turns[len(turns)-limit:]
	}
	out := make([]*Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func makeTurns(sessionID uuid.UUID, n int) []*Turn {
	turns := make([]*Turn, n)
	for i := range turns {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAgent
		}
		turns[i] = &Turn{
			ID:             uuid.New(),
			SessionID:      sessionID,
			Role:           role,
			Content:        "turn",
			SequenceNumber: int32(i + 1),
		}
	}
	return turns
}

func TestWindowsBuild_BoundsToLimit(t *testing.T) {
	sessionID := uuid.New()
	store := &fakeWindowStore{turns: map[uuid.UUID][]*Turn{sessionID: makeTurns(sessionID, 25)}}
	w := NewWindows(store, 10, log.NewNop())

	turns, err := w.Build(context.Background(), sessionID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 10)

	// Oldest first, and exactly the most recent ten.
	assert.Equal(t, int32(16), turns[0].SequenceNumber)
	assert.Equal(t, int32(25), turns[9].SequenceNumber)
	for i := 1; i < len(turns); i++ {
		assert.Greater(t, turns[i].SequenceNumber, turns[i-1].SequenceNumber)
	}
}

func TestWindowsBuild_FewerTurnsThanLimit(t *testing.T) {
	sessionID := uuid.New()
	store := &fakeWindowStore{turns: map[uuid.UUID][]*Turn{sessionID: makeTurns(sessionID, 4)}}
	w := NewWindows(store, 10, log.NewNop())

	turns, err := w.Build(context.Background(), sessionID, 10)
	require.NoError(t, err)
	assert.Len(t, turns, 4)
}

func TestWindowsBuild_EmptySession(t *testing.T) {
	sessionID := uuid.New()
	store := &fakeWindowStore{turns: map[uuid.UUID][]*Turn{sessionID: nil}}
	w := NewWindows(store, 10, log.NewNop())

	turns, err := w.Build(context.Background(), sessionID, 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestWindowsBuild_UnknownSession(t *testing.T) {
	store := &fakeWindowStore{turns: map[uuid.UUID][]*Turn{}}
	w := NewWindows(store, 10, log.NewNop())

	_, err := w.Build(context.Background(), uuid.New(), 10)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestWindowsBuild_CachesUntilInvalidate(t *testing.T) {
	sessionID := uuid.New()
	store := &fakeWindowStore{turns: map[uuid.UUID][]*Turn{sessionID: makeTurns(sessionID, 12)}}
	w := NewWindows(store, 10, log.NewNop())

	_, err := w.Build(context.Background(), sessionID, 10)
	require.NoError(t, err)
	_, err = w.Build(context.Background(), sessionID, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, store.queries, "second build should hit the cache")

	// Smaller limits are served from the same cached window.
	turns, err := w.Build(context.Background(), sessionID, 3)
	require.NoError(t, err)
	assert.Len(t, turns, 3)
	assert.Equal(t, 1, store.queries)

	w.Invalidate(sessionID)
	_, err = w.Build(context.Background(), sessionID, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, store.queries, "invalidate should force a reload")
}

func TestWindowsBuild_LargerLimitBypassesCache(t *testing.T) {
	sessionID := uuid.New()
	store := &fakeWindowStore{turns: map[uuid.UUID][]*Turn{sessionID: makeTurns(sessionID, 30)}}
	w := NewWindows(store, 10, log.NewNop())

	_, err := w.Build(context.Background(), sessionID, 10)
	require.NoError(t, err)

	turns, err := w.Build(context.Background(), sessionID, 20)
	require.NoError(t, err)
	assert.Len(t, turns, 20)
	assert.Equal(t, 2, store.queries)
}
