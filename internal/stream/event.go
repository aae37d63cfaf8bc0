// Package stream fans out run progress events to attached subscribers and
// keeps a short replay buffer per run so clients can reconnect without
// losing events.
package stream

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the type of a stream event.
type EventKind string

const (
	KindThinking     EventKind = "thinking"
	KindToolCall     EventKind = "tool_call"
	KindToolResult   EventKind = "tool_result"
	KindContentChunk EventKind = "content_chunk"
	KindError        EventKind = "error"
	KindCancelled    EventKind = "cancelled"
	KindDone         EventKind = "done"
	KindResync       EventKind = "resync"
)

// Event is one unit of run progress. Sequence is per-run, gapless, starting
// at 0. Resync events are synthesized per subscriber and carry Sequence -1;
// they sit outside the run numbering and must not be used as last_seen.
type Event struct {
	Sequence int64     `json:"sequence"`
	TurnID   uuid.UUID `json:"turn_id"`
	Kind     EventKind `json:"kind"`
	Payload  any       `json:"payload,omitempty"`
}

// ThinkingPayload accompanies KindThinking.
type ThinkingPayload struct {
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ToolCallPayload accompanies KindToolCall.
type ToolCallPayload struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ToolResultPayload accompanies KindToolResult.
type ToolResultPayload struct {
	Name   string         `json:"name"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ChunkPayload accompanies KindContentChunk.
type ChunkPayload struct {
	Text string `json:"text"`
}

// ErrorPayload accompanies KindError.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DonePayload accompanies KindDone.
type DonePayload struct {
	TurnID    uuid.UUID `json:"turn_id"`
	Steps     int       `json:"steps"`
	ToolCalls int       `json:"tool_calls"`
	Duration  string    `json:"duration"`
}

// ResyncPayload accompanies KindResync. NextSequence is the sequence the
// live tail resumes at; everything before it must be re-fetched from the
// session API.
type ResyncPayload struct {
	Reason       string `json:"reason"`
	NextSequence int64  `json:"next_sequence"`
}

// timedEvent pairs an event with its publish time for retention eviction.
type timedEvent struct {
	ev Event
	at time.Time
}
