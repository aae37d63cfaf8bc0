package session

import "errors"

var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionArchived indicates the session exists but is archived and
	// no longer accepts messages.
	ErrSessionArchived = errors.New("session is archived")

	// ErrNotOwner indicates the caller does not own the session.
	ErrNotOwner = errors.New("session belongs to another user")

	// ErrTurnNotFound indicates the requested turn does not exist.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrEmptyContent indicates a turn with no content was submitted.
	ErrEmptyContent = errors.New("turn content is empty")
)
