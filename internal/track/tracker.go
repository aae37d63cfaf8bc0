// Package track records an agent turn as it unfolds: thinking steps, tool
// calls and reply chunks. Every append is pushed to the stream publisher
// immediately and buffered for the atomic finalize at the end of the run.
package track

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/session"
	"github.com/breezehq/breeze/internal/stream"
)

// ErrTurnClosed indicates an append after the turn was finalized or aborted.
var ErrTurnClosed = errors.New("turn is closed")

// Publisher is the subset of the stream publisher the tracker needs.
type Publisher interface {
	BeginRun(sessionID, turnID uuid.UUID)
	Publish(sessionID uuid.UUID, kind stream.EventKind, payload any) int64
	EndRun(sessionID uuid.UUID)
}

// TurnWriter is the subset of the session store the tracker needs.
type TurnWriter interface {
	FinalizeTurn(ctx context.Context, p session.FinalizeParams) (*session.FinalizedTurn, error)
}

// Tracker opens turn recordings.
type Tracker struct {
	store  TurnWriter
	pub    Publisher
	logger log.Logger
	now    func() time.Time
}

// New creates a tracker.
func New(store TurnWriter, pub Publisher, logger log.Logger) *Tracker {
	return &Tracker{
		store:  store,
		pub:    pub,
		logger: logger.With("component", "tracker"),
		now:    time.Now,
	}
}

// OpenTurn starts recording a new agent turn for the session and opens its
// event stream. The returned handle is safe for concurrent use, though a
// run normally appends from a single goroutine.
func (t *Tracker) OpenTurn(sessionID uuid.UUID) *Turn {
	turn := &Turn{
		tracker:   t,
		sessionID: sessionID,
		id:        uuid.New(),
		openedAt:  t.now(),
		lastAt:    t.now(),
	}
	t.pub.BeginRun(sessionID, turn.id)
	return turn
}

// Turn is one in-flight agent turn. Steps and tool calls share a single
// monotonic interleave counter so their relative order survives into the
// store exactly as it was streamed.
type Turn struct {
	tracker   *Tracker
	sessionID uuid.UUID
	id        uuid.UUID
	openedAt  time.Time

	mu       sync.Mutex
	closed   bool
	seq      int32
	stepIdx  int32
	lastAt   time.Time
	steps    []session.ThinkingStep
	calls    []session.ToolCall
	reply    strings.Builder
}

// ID returns the provisional agent turn ID. It becomes the stored turn's
// row ID at finalize.
func (tn *Turn) ID() uuid.UUID { return tn.id }

// SessionID returns the session this turn belongs to.
func (tn *Turn) SessionID() uuid.UUID { return tn.sessionID }

// AppendStep records a thinking step and streams it. Returns the step's
// interleave sequence.
func (tn *Turn) AppendStep(stepType session.StepType, content string, confidence *float64) (int32, error) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	if tn.closed {
		return 0, ErrTurnClosed
	}

	now := tn.tracker.now()
	step := session.ThinkingStep{
		TurnID:        tn.id,
		StepIndex:     tn.stepIdx,
		InterleaveSeq: tn.seq,
		Type:          stepType,
		Content:       content,
		Confidence:    confidence,
		DurationMS:    now.Sub(tn.lastAt).Milliseconds(),
	}
	tn.stepIdx++
	tn.seq++
	tn.lastAt = now
	tn.steps = append(tn.steps, step)

	tn.tracker.pub.Publish(tn.sessionID, stream.KindThinking, stream.ThinkingPayload{
		Type:       string(stepType),
		Content:    content,
		Confidence: confidence,
	})
	return step.InterleaveSeq, nil
}

// ToolCallRecord is the completed outcome of one tool invocation.
type ToolCallRecord struct {
	Name      string
	Params    map[string]any
	Result    map[string]any
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// AppendToolCall records a completed tool invocation and streams the
// tool_call / tool_result event pair. Returns the call's interleave
// sequence.
func (tn *Turn) AppendToolCall(rec ToolCallRecord) (int32, error) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	if tn.closed {
		return 0, ErrTurnClosed
	}

	call := session.ToolCall{
		TurnID:        tn.id,
		InterleaveSeq: tn.seq,
		ToolName:      rec.Name,
		Params:        rec.Params,
		Result:        rec.Result,
		ErrorMessage:  rec.Error,
		StartedAt:     rec.StartedAt,
		EndedAt:       rec.EndedAt,
	}
	tn.seq++
	tn.lastAt = tn.tracker.now()
	tn.calls = append(tn.calls, call)

	tn.tracker.pub.Publish(tn.sessionID, stream.KindToolCall, stream.ToolCallPayload{
		Name:   rec.Name,
		Params: rec.Params,
	})
	tn.tracker.pub.Publish(tn.sessionID, stream.KindToolResult, stream.ToolResultPayload{
		Name:   rec.Name,
		Result: rec.Result,
		Error:  rec.Error,
	})
	return call.InterleaveSeq, nil
}

// AppendChunk accumulates a piece of the reply text and streams it.
func (tn *Turn) AppendChunk(text string) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	if tn.closed {
		return ErrTurnClosed
	}

	tn.reply.WriteString(text)
	tn.tracker.pub.Publish(tn.sessionID, stream.KindContentChunk, stream.ChunkPayload{Text: text})
	return nil
}

// FinalizeInput carries the run-level fields of a finalize.
type FinalizeInput struct {
	UserText   string
	Confidence *float64

	// Context entries merged into the session context map.
	Context map[string]any
}

// Finalize persists the whole turn in one transaction, emits the done event
// and closes the stream. The handle rejects all appends afterwards.
// On store failure the turn stays open so the caller can Abort it.
func (tn *Turn) Finalize(ctx context.Context, in FinalizeInput) (*session.FinalizedTurn, error) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	if tn.closed {
		return nil, ErrTurnClosed
	}

	result, err := tn.tracker.store.FinalizeTurn(ctx, session.FinalizeParams{
		SessionID:   tn.sessionID,
		AgentTurnID: tn.id,
		UserText:    in.UserText,
		AgentText:   tn.reply.String(),
		Confidence:  in.Confidence,
		Steps:       tn.steps,
		ToolCalls:   tn.calls,
		Context:     in.Context,
	})
	if err != nil {
		return nil, err
	}

	tn.closed = true
	tn.tracker.pub.Publish(tn.sessionID, stream.KindDone, stream.DonePayload{
		TurnID:    tn.id,
		Steps:     len(tn.steps),
		ToolCalls: len(tn.calls),
		Duration:  tn.tracker.now().Sub(tn.openedAt).Round(time.Millisecond).String(),
	})
	tn.tracker.pub.EndRun(tn.sessionID)

	tn.tracker.logger.Debug("turn finalized",
		"session_id", tn.sessionID, "turn_id", tn.id,
		"steps", len(tn.steps), "tool_calls", len(tn.calls))
	return result, nil
}

// Abort discards the buffered turn, emits a terminal error (or cancelled)
// event and closes the stream. Nothing is persisted; the conversation reads
// as if the run never happened. Safe to call on an already-closed turn.
func (tn *Turn) Abort(code, message string) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	if tn.closed {
		return
	}
	tn.closed = true

	kind := stream.KindError
	if code == "cancelled" {
		kind = stream.KindCancelled
	}
	tn.tracker.pub.Publish(tn.sessionID, kind, stream.ErrorPayload{Code: code, Message: message})
	tn.tracker.pub.EndRun(tn.sessionID)

	tn.tracker.logger.Debug("turn aborted",
		"session_id", tn.sessionID, "turn_id", tn.id, "code", code)
}
