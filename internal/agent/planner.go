// Package agent decides what the assistant does next: think, call a tool,
// or answer. The run controller drives a Planner in a loop, feeding back
// tool observations until the planner produces a reply.
package agent

import (
	"context"

	"github.com/breezehq/breeze/internal/session"
)

// Observation is the outcome of one tool invocation, fed back into the next
// planning round. Either Result or Error is set.
type Observation struct {
	Tool   string
	Params map[string]any
	Result map[string]any
	Error  string
}

// Request is one planning round.
type Request struct {
	// UserText is the message being answered.
	UserText string

	// Window is the bounded conversation history, oldest first.
	Window []*session.Turn

	// Context is the session's durable context map (read-only).
	Context map[string]any

	// Observations are the tool outcomes of this run so far, in order.
	Observations []Observation
}

// Step is a thinking step the planner wants recorded and streamed.
type Step struct {
	Type       session.StepType
	Content    string
	Confidence *float64
}

// ToolRequest asks the controller to invoke a tool and plan again with the
// observation.
type ToolRequest struct {
	Name   string
	Params map[string]any
}

// Decision is the outcome of one planning round. Tool and Reply are
// mutually exclusive: a non-nil Tool means "invoke and come back", an empty
// Tool means Reply is the final answer.
type Decision struct {
	Steps          []Step
	Tool           *ToolRequest
	Reply          string
	Confidence     *float64
	ContextUpdates map[string]any
}

// Planner produces the next decision for a run.
type Planner interface {
	Plan(ctx context.Context, req Request) (*Decision, error)
}

func confidence(v float64) *float64 { return &v }
