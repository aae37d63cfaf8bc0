// Package tools provides the tool invocation gateway and the weather
// domain tools behind it. Every tool failure, whatever its origin, leaves
// the gateway as a *ToolError so callers branch on Kind and Retryable
// instead of transport-specific error types.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/breezehq/breeze/internal/log"
)

// Tool is one invocable capability. Invoke must honor ctx cancellation;
// params and results are plain JSON-shaped maps.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, params map[string]any) (map[string]any, error)
}

// DefaultTimeout is the per-invocation deadline when none is configured.
const DefaultTimeout = 10 * time.Second

// Gateway dispatches tool invocations with a hard per-call timeout. It does
// no retries of its own; retry policy belongs to the run controller.
type Gateway struct {
	timeout time.Duration
	logger  log.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewGateway creates a gateway. timeout <= 0 uses DefaultTimeout.
func NewGateway(timeout time.Duration, logger log.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		timeout: timeout,
		logger:  logger.With("component", "tool_gateway"),
		tools:   make(map[string]Tool),
	}
}

// Register adds a tool. Duplicate names are a wiring bug.
func (g *Gateway) Register(t Tool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	g.tools[t.Name()] = t
	return nil
}

// Names returns the registered tool names, sorted.
func (g *Gateway) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.tools))
	for name := range g.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named tool with the gateway's timeout and normalizes any
// failure into a *ToolError.
//
// The invocation deadline is detached from the caller's context: a run that
// gets cancelled mid-call does not abort the dispatched call, Invoke just
// returns early and the call's result is discarded when it completes. This
// keeps tool side effects from being half-interrupted.
func (g *Gateway) Invoke(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	g.mu.RLock()
	tool, ok := g.tools[name]
	g.mu.RUnlock()
	if !ok {
		return nil, NewNotFound(name, "no such tool")
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer cancel()
		result, err := tool.Invoke(callCtx, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			te := normalize(name, out.err)
			g.logger.Warn("tool invocation failed",
				"tool", name, "kind", te.Kind, "retryable", te.Retryable,
				"elapsed", elapsed, "error", te.Message)
			return nil, te
		}
		g.logger.Debug("tool invocation completed", "tool", name, "elapsed", elapsed)
		return out.result, nil
	case <-ctx.Done():
		te := normalize(name, context.Cause(ctx))
		g.logger.Warn("tool invocation abandoned",
			"tool", name, "elapsed", time.Since(start), "error", te.Message)
		return nil, te
	}
}
