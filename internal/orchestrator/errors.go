package orchestrator

import "errors"

// Sentinel errors for orchestrator-level failures that are not themselves
// gate/lifecycle reasons recorded on the task.
var (
	// ErrNotWaitingManual is returned when submit_author_decision is
	// called for a task that is not currently awaiting manual approval.
	ErrNotWaitingManual = errors.New("orchestrator: task is not waiting_manual")

	// ErrNotPromotable is returned when promote_selected_round is called
	// for a task that has not finished running (queued, running or
	// waiting_manual), or was not started with max_rounds>1 and
	// auto_merge=false.
	ErrNotPromotable = errors.New("orchestrator: task is not eligible for round promotion")

	// ErrRoundSnapshotNotFound is returned when the requested round has
	// no captured snapshot.
	ErrRoundSnapshotNotFound = errors.New("orchestrator: requested round snapshot does not exist")

	// ErrMergeTargetUnresolved is returned when no merge target can be
	// determined from the explicit argument, the stored task, or the
	// project path.
	ErrMergeTargetUnresolved = errors.New("orchestrator: no merge target could be resolved")

	// ErrAutoMergeNotConfigured is returned when a promotion or an
	// auto_merge=true task completes without an AutoMerger collaborator
	// wired in.
	ErrAutoMergeNotConfigured = errors.New("orchestrator: no AutoMerger configured")

	// ErrUnknownProvider is returned when a participant id's provider
	// segment has no entry in the configured provider table.
	ErrUnknownProvider = errors.New("orchestrator: unknown provider")

	// ErrUnknownDecision is returned by SubmitAuthorDecision for a decision
	// string other than approve, reject, or revise.
	ErrUnknownDecision = errors.New("orchestrator: decision must be one of: approve, reject, revise")

	// ErrNotRunning is returned by EvaluateGate for a task that is not
	// currently running; the manual gate endpoint substitutes for a
	// round's automatic gate evaluation and so only applies mid-run.
	ErrNotRunning = errors.New("orchestrator: task is not running")
)
