package run

import "errors"

var (
	// ErrRunInProgress indicates the session already has an in-flight run.
	// Submissions are rejected, never queued.
	ErrRunInProgress = errors.New("a run is already in progress for this session")

	// ErrNoActiveRun indicates there is nothing to cancel.
	ErrNoActiveRun = errors.New("no active run for session")

	// ErrToolLoopExceeded indicates the planner kept requesting tools past
	// the per-run limit.
	ErrToolLoopExceeded = errors.New("tool call limit exceeded")

	// ErrRunTimeout indicates the run hit its wall-clock deadline.
	ErrRunTimeout = errors.New("run timed out")

	// ErrRunCancelled indicates the run was cancelled by the user.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrControllerClosed indicates the controller is shutting down.
	ErrControllerClosed = errors.New("run controller is shutting down")
)
