package storage

import "errors"

// Sentinel errors for the Repository and ArtifactStore. Sentinels let
// callers match with errors.Is instead of parsing messages.
var (
	// ErrTaskNotFound is returned when a task id has no matching row.
	ErrTaskNotFound = errors.New("task not found")

	// ErrSeqConflict is returned when the per-task seq counter could not be
	// reserved after exhausting the bounded retry budget.
	ErrSeqConflict = errors.New("event sequence allocation exhausted retries")

	// ErrCASMismatch is returned by UpdateStatusIf when the task's current
	// status does not equal the expected status; callers treat this as
	// "someone else won the race", not a hard error.
	ErrCASMismatch = errors.New("task status did not match expected value")

	// ErrArtifactOutsideRoot is returned when a computed path would escape
	// the per-task artifact subtree.
	ErrArtifactOutsideRoot = errors.New("artifact path escapes task root")
)
