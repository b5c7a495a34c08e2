// Package taxonomy collects the stable reason strings the engine attaches
// to status transitions and events, bucketed per §7 of the task-lifecycle
// specification. Components never invent ad hoc reason text; they select
// from this set so Analytics can bucket outcomes without string-sniffing.
package taxonomy

// Reason is a stable, analytics-bucketable outcome string.
type Reason string

// Bucket classifies a Reason for reporting purposes.
type Bucket string

const (
	BucketValidation      Bucket = "validation"
	BucketRuntimeProcess  Bucket = "runtime_process"
	BucketWorkflowGates   Bucket = "workflow_gates"
	BucketProposalProto   Bucket = "proposal_subprotocol"
	BucketGuards          Bucket = "guards"
	BucketLifecycle       Bucket = "lifecycle"
	BucketSystem          Bucket = "system"
)

// Validation.
const (
	ReasonValidationError Reason = "validation_error"
)

// Runtime / process.
const (
	ReasonProviderLimit        Reason = "provider_limit"
	ReasonCommandTimeout       Reason = "command_timeout"
	ReasonCommandNotFound      Reason = "command_not_found"
	ReasonCommandNotConfigured Reason = "command_not_configured"
	ReasonCommandFailed        Reason = "command_failed"
)

// Workflow gates.
const (
	ReasonTestsFailed                      Reason = "tests_failed"
	ReasonLintFailed                       Reason = "lint_failed"
	ReasonReviewBlocker                    Reason = "review_blocker"
	ReasonReviewUnknown                    Reason = "review_unknown"
	ReasonPrecompletionCommandsMissing     Reason = "precompletion_commands_missing"
	ReasonPrecompletionVerificationMissing Reason = "precompletion_verification_missing"
	ReasonPrecompletionEvidenceMissing     Reason = "precompletion_evidence_missing"
	ReasonArchitectureThresholdExceeded    Reason = "architecture_threshold_exceeded"
	ReasonArchitectureThresholdWarning     Reason = "architecture_threshold_warning"
	ReasonLoopNoProgress                   Reason = "loop_no_progress"
	ReasonDebateReviewUnavailable          Reason = "debate_review_unavailable"
)

// Proposal subprotocol.
const (
	ReasonProposalPrecheckUnavailable        Reason = "proposal_precheck_unavailable"
	ReasonProposalReviewUnavailable          Reason = "proposal_review_unavailable"
	ReasonProposalConsensusStalledInRound    Reason = "proposal_consensus_stalled_in_round"
	ReasonProposalConsensusStalledAcrossRounds Reason = "proposal_consensus_stalled_across_rounds"
	ReasonProposalDiscussionIncomplete       Reason = "proposal_discussion_incomplete"
)

// Guards.
const (
	ReasonPreflightRiskGateFailed      Reason = "preflight_risk_gate_failed"
	ReasonWorkspaceResumeGuardMismatch Reason = "workspace_resume_guard_mismatch"
	ReasonHeadSHAMissing               Reason = "head_sha_missing"
	ReasonHeadSHAMismatch              Reason = "head_sha_mismatch"
	ReasonPromotionGuardBlocked        Reason = "promotion_guard_blocked"
)

// Lifecycle.
const (
	ReasonCanceled                  Reason = "canceled"
	ReasonDeadlineReached           Reason = "deadline_reached"
	ReasonAuthorApproved            Reason = "author_approved"
	ReasonAuthorRejected            Reason = "author_rejected"
	ReasonAuthorFeedbackRequested   Reason = "author_feedback_requested"
	ReasonAuthorConfirmationRequired Reason = "author_confirmation_required"
	ReasonConcurrencyLimit          Reason = "concurrency_limit"
	ReasonStartInflightDedup        Reason = "start_inflight_dedup"
	ReasonPassed                    Reason = "passed"
)

// System. These three carry a ":" detail suffix appended by the caller.
const (
	ReasonWorkflowError    Reason = "workflow_error"
	ReasonBackgroundError  Reason = "background_error"
	ReasonAutoMergeError   Reason = "auto_merge_error"
	ReasonWatchdogTimeout  Reason = "watchdog_timeout"
)

// bucketOf maps every known reason to its bucket. Unknown reasons bucket as
// system so a missing mapping never silently drops out of reporting.
var bucketOf = map[Reason]Bucket{
	ReasonValidationError: BucketValidation,

	ReasonProviderLimit:        BucketRuntimeProcess,
	ReasonCommandTimeout:       BucketRuntimeProcess,
	ReasonCommandNotFound:      BucketRuntimeProcess,
	ReasonCommandNotConfigured: BucketRuntimeProcess,
	ReasonCommandFailed:        BucketRuntimeProcess,

	ReasonTestsFailed:                      BucketWorkflowGates,
	ReasonLintFailed:                       BucketWorkflowGates,
	ReasonReviewBlocker:                    BucketWorkflowGates,
	ReasonReviewUnknown:                    BucketWorkflowGates,
	ReasonPrecompletionCommandsMissing:     BucketWorkflowGates,
	ReasonPrecompletionVerificationMissing: BucketWorkflowGates,
	ReasonPrecompletionEvidenceMissing:     BucketWorkflowGates,
	ReasonArchitectureThresholdExceeded:    BucketWorkflowGates,
	ReasonArchitectureThresholdWarning:     BucketWorkflowGates,
	ReasonLoopNoProgress:                   BucketWorkflowGates,
	ReasonDebateReviewUnavailable:          BucketWorkflowGates,

	ReasonProposalPrecheckUnavailable:         BucketProposalProto,
	ReasonProposalReviewUnavailable:           BucketProposalProto,
	ReasonProposalConsensusStalledInRound:     BucketProposalProto,
	ReasonProposalConsensusStalledAcrossRounds: BucketProposalProto,
	ReasonProposalDiscussionIncomplete:        BucketProposalProto,

	ReasonPreflightRiskGateFailed:      BucketGuards,
	ReasonWorkspaceResumeGuardMismatch: BucketGuards,
	ReasonHeadSHAMissing:               BucketGuards,
	ReasonHeadSHAMismatch:              BucketGuards,
	ReasonPromotionGuardBlocked:        BucketGuards,

	ReasonCanceled:                   BucketLifecycle,
	ReasonDeadlineReached:            BucketLifecycle,
	ReasonAuthorApproved:             BucketLifecycle,
	ReasonAuthorRejected:             BucketLifecycle,
	ReasonAuthorFeedbackRequested:    BucketLifecycle,
	ReasonAuthorConfirmationRequired: BucketLifecycle,
	ReasonConcurrencyLimit:           BucketLifecycle,
	ReasonStartInflightDedup:         BucketLifecycle,
	ReasonPassed:                     BucketLifecycle,

	ReasonWorkflowError:   BucketSystem,
	ReasonBackgroundError: BucketSystem,
	ReasonAutoMergeError:  BucketSystem,
	ReasonWatchdogTimeout: BucketSystem,
}

// BucketFor returns the bucket for a reason, defaulting to BucketSystem for
// anything not in the fixed taxonomy (e.g. a "workflow_error: <detail>"
// string — callers should strip the detail suffix before calling BucketFor).
func BucketFor(r Reason) Bucket {
	if b, ok := bucketOf[r]; ok {
		return b
	}
	return BucketSystem
}
