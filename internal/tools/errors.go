package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorKind categorizes a tool failure for the caller's retry decision.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "timeout"
	KindNetwork      ErrorKind = "network"
	KindInvalidInput ErrorKind = "invalid_input"
	KindUpstream     ErrorKind = "upstream"
	KindNotFound     ErrorKind = "not_found"
	KindInternal     ErrorKind = "internal"
)

// ToolError is the single failure shape the gateway hands to callers.
// Whatever a tool or its transport throws gets normalized into one of these;
// Retryable tells the run controller whether one retry is worth it. The
// gateway itself never retries.
type ToolError struct {
	Kind      ErrorKind
	Tool      string
	Message   string
	Retryable bool

	cause error
}

func (e *ToolError) Error() string {
	if e == nil {
		return "<nil tool error>"
	}
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error { return e.cause }

// AsToolError unwraps err into a *ToolError if one is in the chain.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// NewInvalidInput reports malformed tool parameters. Never retryable; the
// same input fails the same way.
func NewInvalidInput(tool, message string) *ToolError {
	return &ToolError{Kind: KindInvalidInput, Tool: tool, Message: message}
}

// NewNotFound reports a lookup miss (unknown location, unknown tool).
func NewNotFound(tool, message string) *ToolError {
	return &ToolError{Kind: KindNotFound, Tool: tool, Message: message}
}

// NewUpstream reports a failure inside the upstream provider. Server-side
// failures are worth one retry, client-side rejections are not.
func NewUpstream(tool string, statusCode int) *ToolError {
	return &ToolError{
		Kind:      KindUpstream,
		Tool:      tool,
		Message:   fmt.Sprintf("upstream returned status %d", statusCode),
		Retryable: statusCode >= 500,
	}
}

// normalize maps an arbitrary error from a tool invocation into a
// *ToolError. Errors that already are one pass through unchanged.
func normalize(tool string, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ToolError{
			Kind: KindTimeout, Tool: tool,
			Message: "invocation deadline exceeded", Retryable: true,
			cause: err,
		}
	case errors.Is(err, context.Canceled):
		return &ToolError{
			Kind: KindInternal, Tool: tool,
			Message: "invocation cancelled", Retryable: false,
			cause: err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ToolError{
			Kind: KindTimeout, Tool: tool,
			Message: err.Error(), Retryable: true,
			cause: err,
		}
	}

	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) {
		return &ToolError{
			Kind: KindNetwork, Tool: tool,
			Message: err.Error(), Retryable: true,
			cause: err,
		}
	}

	return &ToolError{
		Kind: KindInternal, Tool: tool,
		Message: err.Error(), Retryable: false,
		cause: err,
	}
}
