package tools

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantKind      ErrorKind
		wantRetryable bool
	}{
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout, true},
		{"cancelled", context.Canceled, KindInternal, false},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("refused")}, KindNetwork, true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetwork, true},
		{"plain error", errors.New("boom"), KindInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := normalize("test_tool", tt.err)
			assert.Equal(t, tt.wantKind, te.Kind)
			assert.Equal(t, tt.wantRetryable, te.Retryable)
			assert.Equal(t, "test_tool", te.Tool)
		})
	}
}

func TestNormalize_PreservesCause(t *testing.T) {
	te := normalize("t", context.DeadlineExceeded)
	assert.ErrorIs(t, te, context.DeadlineExceeded)
}

func TestNormalize_PassthroughToolError(t *testing.T) {
	orig := NewUpstream("t", 503)
	assert.Same(t, orig, normalize("t", orig))
}

func TestNewUpstream_RetryableByStatus(t *testing.T) {
	assert.True(t, NewUpstream("t", 500).Retryable)
	assert.True(t, NewUpstream("t", 503).Retryable)
	assert.False(t, NewUpstream("t", 400).Retryable)
	assert.False(t, NewUpstream("t", 429).Retryable)
}

func TestToolError_Message(t *testing.T) {
	te := NewInvalidInput("weather_query", "location parameter is required")
	require.Contains(t, te.Error(), "weather_query")
	require.Contains(t, te.Error(), "invalid_input")
}
