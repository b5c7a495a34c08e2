package types

import "errors"

// Sentinel errors for task and event validation. Sentinels let callers
// match with errors.Is instead of parsing messages.
var (
	// ErrTaskIDEmpty is returned when a task id is required but missing.
	ErrTaskIDEmpty = errors.New("task id must not be empty")

	// ErrAuthorParticipantEmpty is returned when author_participant is missing.
	ErrAuthorParticipantEmpty = errors.New("author participant must not be empty")

	// ErrReviewerParticipantsEmpty is returned when reviewer_participants is empty.
	ErrReviewerParticipantsEmpty = errors.New("reviewer participants must not be empty")

	// ErrParticipantFormatInvalid is returned when a participant id is not
	// of the form "provider#alias".
	ErrParticipantFormatInvalid = errors.New("participant id must match provider#alias")

	// ErrMaxRoundsInvalid is returned when max_rounds < 1.
	ErrMaxRoundsInvalid = errors.New("max_rounds must be >= 1")

	// ErrPhaseTimeoutInvalid is returned when a phase timeout is below the
	// minimum accepted value (10s).
	ErrPhaseTimeoutInvalid = errors.New("phase timeout must be >= 10s")

	// ErrLanguageInvalid is returned when conversation language is not a
	// recognized code.
	ErrLanguageInvalid = errors.New("language must be one of: en, zh")

	// ErrRepairModeInvalid is returned for an unrecognized repair mode.
	ErrRepairModeInvalid = errors.New("repair_mode must be one of: minimal, balanced, structural")

	// ErrMergeTargetRequired is returned when auto_merge is set without a
	// merge target path.
	ErrMergeTargetRequired = errors.New("merge_target_path is required when auto_merge is enabled")
)
