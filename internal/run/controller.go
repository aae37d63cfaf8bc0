// Package run owns the lifecycle of one agent run: load context, let the
// planner think, invoke tools, stream the reply and finalize the turn
// atomically. One run per session at a time, rejected not queued.
package run

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/breezehq/breeze/internal/agent"
	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/session"
	"github.com/breezehq/breeze/internal/tools"
	"github.com/breezehq/breeze/internal/track"
)

// State is the run's current phase.
type State string

const (
	StateContextLoading State = "context_loading"
	StateReasoning      State = "reasoning"
	StateToolCalling    State = "tool_calling"
	StateResponding     State = "responding"
	StateFinalizing     State = "finalizing"
	StateCompleted      State = "completed"
	StateErrored        State = "errored"
	StateCancelled      State = "cancelled"
)

// Config bounds a run.
type Config struct {
	// MaxToolCalls caps tool invocations per run.
	MaxToolCalls int

	// RunTimeout is the wall-clock budget for the whole run.
	RunTimeout time.Duration

	// WindowSize is the context window handed to the planner.
	WindowSize int

	// ChunkSize is the reply chunk length in runes.
	ChunkSize int
}

func (c *Config) applyDefaults() {
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = 6
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 90 * time.Second
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 48
	}
}

// SessionReader looks up sessions for submission checks.
type SessionReader interface {
	Session(ctx context.Context, id uuid.UUID) (*session.Session, error)
}

// WindowBuilder builds and invalidates context windows.
type WindowBuilder interface {
	Build(ctx context.Context, sessionID uuid.UUID, limit int) ([]*session.Turn, error)
	Invalidate(sessionID uuid.UUID)
}

// Tracker opens turn recordings.
type Tracker interface {
	OpenTurn(sessionID uuid.UUID) *track.Turn
}

// Invoker dispatches tool invocations.
type Invoker interface {
	Invoke(ctx context.Context, name string, params map[string]any) (map[string]any, error)
}

// Run is one in-flight (or finished) agent run.
type Run struct {
	ID        uuid.UUID
	SessionID uuid.UUID

	mu     sync.Mutex
	turnID uuid.UUID
	state  State
	err    error

	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

// State returns the run's current phase.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TurnID returns the provisional agent turn ID, once the run has opened it.
func (r *Run) TurnID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnID
}

// Err returns the run's terminal error, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done closes when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) setTurnID(id uuid.UUID) {
	r.mu.Lock()
	r.turnID = id
	r.mu.Unlock()
}

func (r *Run) finish(s State, err error) {
	r.mu.Lock()
	r.state = s
	r.err = err
	r.mu.Unlock()
}

// Controller executes runs, one per session at a time.
type Controller struct {
	cfg      Config
	sessions SessionReader
	windows  WindowBuilder
	tracker  Tracker
	gateway  Invoker
	planner  agent.Planner
	logger   log.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*Run
	closed bool
	wg     sync.WaitGroup
}

// New creates a controller.
func New(cfg Config, sessions SessionReader, windows WindowBuilder, tracker Tracker,
	gateway Invoker, planner agent.Planner, logger log.Logger) *Controller {
	cfg.applyDefaults()
	return &Controller{
		cfg:      cfg,
		sessions: sessions,
		windows:  windows,
		tracker:  tracker,
		gateway:  gateway,
		planner:  planner,
		logger:   logger.With("component", "run_controller"),
		active:   make(map[uuid.UUID]*Run),
	}
}

// Submit starts a run for the session's next message. It validates the
// session, takes the per-session run slot and returns immediately; the run
// itself executes on its own goroutine with its own deadline, detached from
// the submitting request's context.
func (c *Controller) Submit(ctx context.Context, sessionID uuid.UUID, ownerID, text string) (*Run, error) {
	if strings.TrimSpace(text) == "" {
		return nil, session.ErrEmptyContent
	}

	sess, err := c.sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && sess.OwnerID != ownerID {
		return nil, session.ErrNotOwner
	}
	if sess.Archived {
		return nil, session.ErrSessionArchived
	}

	runCtx, cancel := context.WithTimeout(context.Background(), c.cfg.RunTimeout)
	r := &Run{
		ID:        uuid.New(),
		SessionID: sessionID,
		state:     StateContextLoading,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil, ErrControllerClosed
	}
	if _, busy := c.active[sessionID]; busy {
		c.mu.Unlock()
		cancel()
		return nil, ErrRunInProgress
	}
	c.active[sessionID] = r
	c.wg.Add(1)
	c.mu.Unlock()

	go c.execute(runCtx, r, sess, text)
	return r, nil
}

// Cancel requests cooperative cancellation of the session's active run.
func (c *Controller) Cancel(sessionID uuid.UUID) error {
	c.mu.Lock()
	r, ok := c.active[sessionID]
	c.mu.Unlock()
	if !ok {
		return ErrNoActiveRun
	}
	r.cancelled.Store(true)
	r.cancel()
	return nil
}

// Active returns the session's in-flight run, if any.
func (c *Controller) Active(sessionID uuid.UUID) (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.active[sessionID]
	return r, ok
}

// Close cancels all in-flight runs and waits for them to wind down, bounded
// by ctx.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for _, r := range c.active {
		r.cancelled.Store(true)
		r.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs to finish: %w", ctx.Err())
	}
}

// execute drives the run state machine. The session run slot is released on
// every exit path, panics included; a crash aborts the turn so nothing
// partial is ever persisted.
func (c *Controller) execute(ctx context.Context, r *Run, sess *session.Session, text string) {
	var turn *track.Turn

	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("run panicked",
				"run_id", r.ID, "session_id", r.SessionID,
				"panic", p, "stack", string(debug.Stack()))
			if turn != nil {
				turn.Abort("internal", "internal error")
			}
			r.finish(StateErrored, fmt.Errorf("run panicked: %v", p))
		}
		c.mu.Lock()
		delete(c.active, r.SessionID)
		c.mu.Unlock()
		r.cancel()
		close(r.done)
		c.wg.Done()
	}()

	turn = c.tracker.OpenTurn(sess.ID)
	r.setTurnID(turn.ID())
	c.logger.Info("run started",
		"run_id", r.ID, "session_id", sess.ID, "turn_id", turn.ID())

	window, err := c.windows.Build(ctx, sess.ID, c.cfg.WindowSize)
	if err != nil {
		c.fail(r, turn, fmt.Errorf("loading context window: %w", err))
		return
	}

	planCtx := maps.Clone(sess.Context)
	if planCtx == nil {
		planCtx = map[string]any{}
	}
	contextUpdates := map[string]any{}
	var observations []agent.Observation
	toolCalls := 0

	r.setState(StateReasoning)
	for {
		if ctx.Err() != nil {
			c.fail(r, turn, ctx.Err())
			return
		}

		dec, err := c.planner.Plan(ctx, agent.Request{
			UserText:     text,
			Window:       window,
			Context:      planCtx,
			Observations: observations,
		})
		if err != nil {
			c.fail(r, turn, fmt.Errorf("planning: %w", err))
			return
		}

		for _, st := range dec.Steps {
			if _, err := turn.AppendStep(st.Type, st.Content, st.Confidence); err != nil {
				c.fail(r, turn, err)
				return
			}
		}
		for k, v := range dec.ContextUpdates {
			contextUpdates[k] = v
			planCtx[k] = v
		}

		if dec.Tool != nil {
			if toolCalls >= c.cfg.MaxToolCalls {
				c.fail(r, turn, ErrToolLoopExceeded)
				return
			}
			r.setState(StateToolCalling)
			toolCalls++
			observations = append(observations, c.invoke(ctx, turn, dec.Tool))
			r.setState(StateReasoning)
			continue
		}

		// Final answer: stream it out, then finalize atomically.
		r.setState(StateResponding)
		for _, chunk := range splitChunks(dec.Reply, c.cfg.ChunkSize) {
			if ctx.Err() != nil {
				c.fail(r, turn, ctx.Err())
				return
			}
			if err := turn.AppendChunk(chunk); err != nil {
				c.fail(r, turn, err)
				return
			}
		}

		r.setState(StateFinalizing)
		var merged map[string]any
		if len(contextUpdates) > 0 {
			merged = contextUpdates
		}
		if _, err := turn.Finalize(ctx, track.FinalizeInput{
			UserText:   text,
			Confidence: dec.Confidence,
			Context:    merged,
		}); err != nil {
			c.fail(r, turn, fmt.Errorf("finalizing turn: %w", err))
			return
		}
		c.windows.Invalidate(sess.ID)
		r.finish(StateCompleted, nil)
		c.logger.Info("run completed",
			"run_id", r.ID, "session_id", sess.ID,
			"tool_calls", toolCalls)
		return
	}
}

// invoke runs one tool call with a single inline retry for retryable
// failures. The outcome, success or error, is recorded on the turn and
// returned as an observation for the next planning round.
func (c *Controller) invoke(ctx context.Context, turn *track.Turn, req *agent.ToolRequest) agent.Observation {
	_, _ = turn.AppendStep(session.StepAction, fmt.Sprintf("Invoking %s.", req.Name), nil)

	started := time.Now()
	result, err := c.gateway.Invoke(ctx, req.Name, req.Params)
	if err != nil && ctx.Err() == nil {
		if te, ok := tools.AsToolError(err); ok && te.Retryable {
			_, _ = turn.AppendStep(session.StepAction,
				fmt.Sprintf("Retrying %s after %s error.", req.Name, te.Kind), nil)
			result, err = c.gateway.Invoke(ctx, req.Name, req.Params)
		}
	}

	rec := track.ToolCallRecord{
		Name:      req.Name,
		Params:    req.Params,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	ob := agent.Observation{Tool: req.Name, Params: req.Params}
	if err != nil {
		rec.Error = err.Error()
		ob.Error = err.Error()
	} else {
		rec.Result = result
		ob.Result = result
	}
	_, _ = turn.AppendToolCall(rec)
	return ob
}

// fail moves the run to its terminal failure state and aborts the turn so
// no partial data persists.
func (c *Controller) fail(r *Run, turn *track.Turn, err error) {
	var state State
	var code string
	var terminal error

	switch {
	case r.cancelled.Load() || errors.Is(err, context.Canceled):
		state, code, terminal = StateCancelled, "cancelled", ErrRunCancelled
	case errors.Is(err, context.DeadlineExceeded):
		state, code, terminal = StateErrored, "run_timeout", ErrRunTimeout
	case errors.Is(err, ErrToolLoopExceeded):
		state, code, terminal = StateErrored, "tool_loop_exceeded", err
	default:
		state, code, terminal = StateErrored, "internal", err
	}

	turn.Abort(code, terminal.Error())
	r.finish(state, terminal)
	c.logger.Warn("run failed",
		"run_id", r.ID, "session_id", r.SessionID,
		"state", state, "error", terminal)
}

// splitChunks slices text into chunks of at most size runes.
func splitChunks(text string, size int) []string {
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		n := min(size, len(runes))
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
