package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breezehq/breeze/internal/log"
)

// Store provides PostgreSQL-backed persistence for sessions and turns.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a session store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger.With("component", "session_store")}
}

// CreateSession creates a new session for the given owner. An empty title is
// allowed; it is usually filled from the first user message.
func (s *Store) CreateSession(ctx context.Context, ownerID, title string) (*Session, error) {
	sess := &Session{OwnerID: ownerID, Title: title, Context: map[string]any{}}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (owner_id, title) VALUES ($1, $2)
		 RETURNING id, archived, context, created_at, updated_at`,
		ownerID, title,
	).Scan(&sess.ID, &sess.Archived, &sess.Context, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("session created", "session_id", sess.ID, "owner_id", ownerID)
	return sess, nil
}

// Session returns the session with the given ID.
func (s *Store) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess := &Session{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, COALESCE(title, ''), archived, context, created_at, updated_at
		 FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.Archived, &sess.Context, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return sess, nil
}

// SessionForOwner returns the session if it exists and belongs to ownerID.
func (s *Store) SessionForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*Session, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return sess, nil
}

// ListSessions returns the owner's sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, ownerID string, includeArchived bool) ([]*Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, COALESCE(title, ''), archived, context, created_at, updated_at
		 FROM sessions
		 WHERE owner_id = $1 AND (archived = FALSE OR $2)
		 ORDER BY updated_at DESC`,
		ownerID, includeArchived,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.Archived,
			&sess.Context, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// SetTitle updates the session title.
func (s *Store) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("updating session title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ArchiveSession marks a session archived. Archived sessions reject new
// messages but remain readable.
func (s *Store) ArchiveSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET archived = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("archiving session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session and all of its turns.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Window returns the most recent limit finalized turns, oldest first.
// Fewer than limit turns returns everything there is.
func (s *Store) Window(ctx context.Context, sessionID uuid.UUID, limit int) ([]*Turn, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, sequence_number, metadata, created_at
		 FROM (
		     SELECT * FROM turns WHERE session_id = $1
		     ORDER BY sequence_number DESC LIMIT $2
		 ) recent
		 ORDER BY sequence_number ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading context window: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// Turns returns all turns of a session in order, with their thinking steps
// and tool calls attached.
func (s *Store) Turns(ctx context.Context, sessionID uuid.UUID) ([]*Turn, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, sequence_number, metadata, created_at
		 FROM turns WHERE session_id = $1 ORDER BY sequence_number ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}
	turns, err := scanTurns(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*Turn, len(turns))
	for _, t := range turns {
		byID[t.ID] = t
	}

	if err := s.attachSteps(ctx, sessionID, byID); err != nil {
		return nil, err
	}
	if err := s.attachToolCalls(ctx, sessionID, byID); err != nil {
		return nil, err
	}
	return turns, nil
}

func (s *Store) attachSteps(ctx context.Context, sessionID uuid.UUID, turns map[uuid.UUID]*Turn) error {
	rows, err := s.pool.Query(ctx,
		`SELECT st.id, st.turn_id, st.step_index, st.interleave_seq, st.step_type, st.content,
		        st.confidence, COALESCE(st.duration_ms, 0), st.failed, COALESCE(st.error_message, ''), st.created_at
		 FROM thinking_steps st
		 JOIN turns t ON t.id = st.turn_id
		 WHERE t.session_id = $1
		 ORDER BY st.step_index ASC`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("loading thinking steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st ThinkingStep
		if err := rows.Scan(&st.ID, &st.TurnID, &st.StepIndex, &st.InterleaveSeq, &st.Type, &st.Content,
			&st.Confidence, &st.DurationMS, &st.Failed, &st.ErrorMessage, &st.CreatedAt); err != nil {
			return fmt.Errorf("scanning thinking step: %w", err)
		}
		if t, ok := turns[st.TurnID]; ok {
			t.Steps = append(t.Steps, st)
		}
	}
	return rows.Err()
}

func (s *Store) attachToolCalls(ctx context.Context, sessionID uuid.UUID, turns map[uuid.UUID]*Turn) error {
	rows, err := s.pool.Query(ctx,
		`SELECT tc.id, tc.turn_id, tc.interleave_seq, tc.tool_name, tc.params, tc.result,
		        COALESCE(tc.error_message, ''), tc.started_at, tc.ended_at
		 FROM tool_calls tc
		 JOIN turns t ON t.id = tc.turn_id
		 WHERE t.session_id = $1
		 ORDER BY tc.interleave_seq ASC`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("loading tool calls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tc ToolCall
		if err := rows.Scan(&tc.ID, &tc.TurnID, &tc.InterleaveSeq, &tc.ToolName, &tc.Params, &tc.Result,
			&tc.ErrorMessage, &tc.StartedAt, &tc.EndedAt); err != nil {
			return fmt.Errorf("scanning tool call: %w", err)
		}
		if t, ok := turns[tc.TurnID]; ok {
			t.ToolCalls = append(t.ToolCalls, tc)
		}
	}
	return rows.Err()
}

// FinalizeTurn persists a completed run in a single transaction: the user
// turn, the agent turn, every thinking step and tool call, and the session
// context merge. Sequence numbers are assigned under a row lock on the
// session, so they stay gapless even with concurrent writers. Any failure
// rolls back the whole batch.
func (s *Store) FinalizeTurn(ctx context.Context, p FinalizeParams) (*FinalizedTurn, error) {
	if strings.TrimSpace(p.UserText) == "" || strings.TrimSpace(p.AgentText) == "" {
		return nil, ErrEmptyContent
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning finalize transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var archived bool
	err = tx.QueryRow(ctx,
		`SELECT archived FROM sessions WHERE id = $1 FOR UPDATE`, p.SessionID,
	).Scan(&archived)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking session: %w", err)
	}
	if archived {
		return nil, ErrSessionArchived
	}

	var maxSeq int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM turns WHERE session_id = $1`, p.SessionID,
	).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("reading max sequence number: %w", err)
	}

	userTurn, err := insertTurn(ctx, tx, uuid.New(), p.SessionID, RoleUser, p.UserText, maxSeq+1, nil)
	if err != nil {
		return nil, err
	}

	var meta map[string]any
	if p.Confidence != nil || len(p.ToolCalls) > 0 {
		meta = map[string]any{}
		if p.Confidence != nil {
			meta["confidence"] = *p.Confidence
		}
		if len(p.ToolCalls) > 0 {
			meta["tool_calls"] = len(p.ToolCalls)
		}
	}
	agentTurnID := p.AgentTurnID
	if agentTurnID == uuid.Nil {
		agentTurnID = uuid.New()
	}
	agentTurn, err := insertTurn(ctx, tx, agentTurnID, p.SessionID, RoleAgent, p.AgentText, maxSeq+2, meta)
	if err != nil {
		return nil, err
	}

	for _, st := range p.Steps {
		_, err = tx.Exec(ctx,
			`INSERT INTO thinking_steps
			     (turn_id, step_index, interleave_seq, step_type, content, confidence, duration_ms, failed, error_message)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))`,
			agentTurn.ID, st.StepIndex, st.InterleaveSeq, st.Type, st.Content,
			st.Confidence, st.DurationMS, st.Failed, st.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting thinking step %d: %w", st.StepIndex, err)
		}
	}

	for _, tc := range p.ToolCalls {
		_, err = tx.Exec(ctx,
			`INSERT INTO tool_calls
			     (turn_id, interleave_seq, tool_name, params, result, error_message, started_at, ended_at)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
			agentTurn.ID, tc.InterleaveSeq, tc.ToolName, tc.Params, tc.Result,
			tc.ErrorMessage, tc.StartedAt, tc.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting tool call %q: %w", tc.ToolName, err)
		}
	}

	if p.Context != nil {
		_, err = tx.Exec(ctx,
			`UPDATE sessions SET context = context || $2, updated_at = now() WHERE id = $1`,
			p.SessionID, p.Context)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE sessions SET updated_at = now() WHERE id = $1`, p.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing finalize transaction: %w", err)
	}

	s.logger.Debug("turn finalized",
		"session_id", p.SessionID,
		"agent_turn_id", agentTurn.ID,
		"steps", len(p.Steps),
		"tool_calls", len(p.ToolCalls))
	return &FinalizedTurn{UserTurn: userTurn, AgentTurn: agentTurn}, nil
}

// Stats holds aggregate counters for the stats endpoint.
type Stats struct {
	Sessions int64 `json:"sessions"`
	Turns    int64 `json:"turns"`
}

// Stats returns aggregate session and turn counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM sessions), (SELECT COUNT(*) FROM turns)`,
	).Scan(&st.Sessions, &st.Turns)
	if err != nil {
		return Stats{}, fmt.Errorf("loading stats: %w", err)
	}
	return st, nil
}

func insertTurn(ctx context.Context, tx pgx.Tx, id, sessionID uuid.UUID, role Role, content string, seq int32, meta map[string]any) (*Turn, error) {
	t := &Turn{ID: id, SessionID: sessionID, Role: role, Content: content, SequenceNumber: seq, Metadata: meta}
	err := tx.QueryRow(ctx,
		`INSERT INTO turns (id, session_id, role, content, sequence_number, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		id, sessionID, role, content, seq, meta,
	).Scan(&t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting %s turn: %w", role, err)
	}
	return t, nil
}

func scanTurns(rows pgx.Rows) ([]*Turn, error) {
	var turns []*Turn
	for rows.Next() {
		t := &Turn{}
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content,
			&t.SequenceNumber, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}
