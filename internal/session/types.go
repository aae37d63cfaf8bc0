// Package session provides conversation persistence: sessions, turns,
// thinking steps and tool call records, backed by PostgreSQL, plus the
// bounded context window used to prompt the planner.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// StepType classifies a thinking step.
type StepType string

const (
	StepAnalysis   StepType = "analysis"
	StepSearch     StepType = "search"
	StepReasoning  StepType = "reasoning"
	StepDecision   StepType = "decision"
	StepValidation StepType = "validation"
	StepAction     StepType = "action"
)

// Session is one conversation thread owned by a single user.
// Context carries durable facts accumulated across turns, such as the last
// resolved location.
type Session struct {
	ID        uuid.UUID      `json:"id"`
	OwnerID   string         `json:"owner_id"`
	Title     string         `json:"title"`
	Archived  bool           `json:"archived"`
	Context   map[string]any `json:"context"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Turn is one finalized message within a session. SequenceNumber is gapless
// and unique per session; it is assigned inside the finalize transaction.
type Turn struct {
	ID             uuid.UUID      `json:"id"`
	SessionID      uuid.UUID      `json:"session_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	SequenceNumber int32          `json:"sequence_number"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`

	// Populated by TurnDetail queries only.
	Steps     []ThinkingStep `json:"steps,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
}

// ThinkingStep is one recorded reasoning step of an agent turn.
// StepIndex orders steps within the turn; InterleaveSeq orders steps and
// tool calls against each other on a single shared scale.
type ThinkingStep struct {
	ID            uuid.UUID `json:"id"`
	TurnID        uuid.UUID `json:"turn_id"`
	StepIndex     int32     `json:"step_index"`
	InterleaveSeq int32     `json:"interleave_seq"`
	Type          StepType  `json:"type"`
	Content       string    `json:"content"`
	Confidence    *float64  `json:"confidence,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
	Failed        bool      `json:"failed"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ToolCall records one tool invocation made during an agent turn, including
// its outcome. A failed call keeps ErrorMessage set and Result nil.
type ToolCall struct {
	ID            uuid.UUID      `json:"id"`
	TurnID        uuid.UUID      `json:"turn_id"`
	InterleaveSeq int32          `json:"interleave_seq"`
	ToolName      string         `json:"tool_name"`
	Params        map[string]any `json:"params"`
	Result        map[string]any `json:"result,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       time.Time      `json:"ended_at"`
}

// FinalizeParams carries everything persisted when a run completes. The
// store writes the user turn, the agent turn, all steps and tool calls, and
// the session context merge in one transaction.
type FinalizeParams struct {
	SessionID uuid.UUID

	// AgentTurnID, when set, becomes the agent turn's row ID so the turn ID
	// already streamed to clients matches what lands in the store.
	AgentTurnID uuid.UUID

	UserText   string
	AgentText  string
	Confidence *float64
	Steps      []ThinkingStep
	ToolCalls  []ToolCall

	// Context entries merged into the session context map. Nil leaves the
	// stored context untouched.
	Context map[string]any
}

// FinalizedTurn is the result of a successful finalize.
type FinalizedTurn struct {
	UserTurn  *Turn
	AgentTurn *Turn
}
