package track

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/session"
	"github.com/breezehq/breeze/internal/stream"
)

type publishedEvent struct {
	kind    stream.EventKind
	payload any
}

// fakePublisher records the event flow.
type fakePublisher struct {
	begun  int
	ended  int
	events []publishedEvent
}

func (f *fakePublisher) BeginRun(uuid.UUID, uuid.UUID) { f.begun++ }

func (f *fakePublisher) Publish(_ uuid.UUID, kind stream.EventKind, payload any) int64 {
	f.events = append(f.events, publishedEvent{kind: kind, payload: payload})
	return int64(len(f.events) - 1)
}

func (f *fakePublisher) EndRun(uuid.UUID) { f.ended++ }

// fakeWriter captures the finalize params.
type fakeWriter struct {
	got *session.FinalizeParams
	err error
}

func (f *fakeWriter) FinalizeTurn(_ context.Context, p session.FinalizeParams) (*session.FinalizedTurn, error) {
	f.got = &p
	if f.err != nil {
		return nil, f.err
	}
	return &session.FinalizedTurn{
		UserTurn:  &session.Turn{SessionID: p.SessionID, Role: session.RoleUser},
		AgentTurn: &session.Turn{ID: p.AgentTurnID, SessionID: p.SessionID, Role: session.RoleAgent},
	}, nil
}

func newTestTurn(t *testing.T) (*Turn, *fakePublisher, *fakeWriter) {
	t.Helper()
	pub := &fakePublisher{}
	writer := &fakeWriter{}
	tracker := New(writer, pub, log.NewNop())
	turn := tracker.OpenTurn(uuid.New())
	require.Equal(t, 1, pub.begun)
	return turn, pub, writer
}

func TestTurn_InterleaveSequenceIsShared(t *testing.T) {
	turn, _, _ := newTestTurn(t)

	s0, err := turn.AppendStep(session.StepAnalysis, "looking at the question", nil)
	require.NoError(t, err)
	c1, err := turn.AppendToolCall(ToolCallRecord{Name: "weather_query", StartedAt: time.Now(), EndedAt: time.Now()})
	require.NoError(t, err)
	s2, err := turn.AppendStep(session.StepReasoning, "18 degrees, mild", nil)
	require.NoError(t, err)
	c3, err := turn.AppendToolCall(ToolCallRecord{Name: "geocode", StartedAt: time.Now(), EndedAt: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, []int32{0, 1, 2, 3}, []int32{s0, c1, s2, c3})
}

func TestTurn_StepIndexCountsStepsOnly(t *testing.T) {
	turn, _, writer := newTestTurn(t)

	_, err := turn.AppendStep(session.StepAnalysis, "a", nil)
	require.NoError(t, err)
	_, err = turn.AppendToolCall(ToolCallRecord{Name: "weather_query"})
	require.NoError(t, err)
	_, err = turn.AppendStep(session.StepDecision, "b", nil)
	require.NoError(t, err)
	require.NoError(t, turn.AppendChunk("hello"))

	_, err = turn.Finalize(context.Background(), FinalizeInput{UserText: "hi"})
	require.NoError(t, err)

	require.Len(t, writer.got.Steps, 2)
	assert.Equal(t, int32(0), writer.got.Steps[0].StepIndex)
	assert.Equal(t, int32(1), writer.got.Steps[1].StepIndex)
	assert.Equal(t, int32(2), writer.got.Steps[1].InterleaveSeq)
}

func TestTurn_EventsStreamedImmediately(t *testing.T) {
	turn, pub, _ := newTestTurn(t)

	_, err := turn.AppendStep(session.StepAnalysis, "thinking", nil)
	require.NoError(t, err)
	_, err = turn.AppendToolCall(ToolCallRecord{Name: "weather_query"})
	require.NoError(t, err)
	require.NoError(t, turn.AppendChunk("It is "))

	kinds := make([]stream.EventKind, len(pub.events))
	for i, ev := range pub.events {
		kinds[i] = ev.kind
	}
	assert.Equal(t, []stream.EventKind{
		stream.KindThinking,
		stream.KindToolCall,
		stream.KindToolResult,
		stream.KindContentChunk,
	}, kinds)
}

func TestTurn_FinalizeAssemblesReply(t *testing.T) {
	turn, pub, writer := newTestTurn(t)

	require.NoError(t, turn.AppendChunk("It is 18°C "))
	require.NoError(t, turn.AppendChunk("in Paris."))

	conf := 0.9
	result, err := turn.Finalize(context.Background(), FinalizeInput{
		UserText:   "What's the weather in Paris?",
		Confidence: &conf,
		Context:    map[string]any{"last_location": "Paris"},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "It is 18°C in Paris.", writer.got.AgentText)
	assert.Equal(t, turn.ID(), writer.got.AgentTurnID)
	assert.Equal(t, "Paris", writer.got.Context["last_location"])

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, stream.KindDone, last.kind)
	assert.Equal(t, 1, pub.ended)
}

func TestTurn_ClosedAfterFinalize(t *testing.T) {
	turn, _, _ := newTestTurn(t)
	require.NoError(t, turn.AppendChunk("reply"))

	_, err := turn.Finalize(context.Background(), FinalizeInput{UserText: "hi"})
	require.NoError(t, err)

	_, err = turn.AppendStep(session.StepAnalysis, "late", nil)
	assert.ErrorIs(t, err, ErrTurnClosed)
	_, err = turn.AppendToolCall(ToolCallRecord{Name: "weather_query"})
	assert.ErrorIs(t, err, ErrTurnClosed)
	assert.ErrorIs(t, turn.AppendChunk("late"), ErrTurnClosed)
	_, err = turn.Finalize(context.Background(), FinalizeInput{UserText: "hi"})
	assert.ErrorIs(t, err, ErrTurnClosed)
}

func TestTurn_FinalizeFailureLeavesTurnOpen(t *testing.T) {
	turn, pub, writer := newTestTurn(t)
	require.NoError(t, turn.AppendChunk("reply"))
	writer.err = errors.New("db down")

	_, err := turn.Finalize(context.Background(), FinalizeInput{UserText: "hi"})
	require.Error(t, err)
	assert.Zero(t, pub.ended, "stream must stay open for the abort")

	turn.Abort("internal", "db down")
	assert.Equal(t, 1, pub.ended)
	last := pub.events[len(pub.events)-1]
	assert.Equal(t, stream.KindError, last.kind)
}

func TestTurn_AbortEmitsCancelled(t *testing.T) {
	turn, pub, _ := newTestTurn(t)

	turn.Abort("cancelled", "user cancelled the run")

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, stream.KindCancelled, last.kind)
	assert.Equal(t, 1, pub.ended)

	// Idempotent; a second abort publishes nothing further.
	turn.Abort("cancelled", "again")
	assert.Equal(t, 1, pub.ended)
}
