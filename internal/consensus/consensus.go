package consensus

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentforge/engine/internal/adapter"
	"github.com/agentforge/engine/internal/runner"
	"github.com/agentforge/engine/internal/storage"
	"github.com/agentforge/engine/internal/taxonomy"
	"github.com/agentforge/engine/internal/types"
)

// retryLimit bounds in-round precheck/discussion/consensus retries
// (spec.md §4.6, "retry_limit (default 10)").
const retryLimit = 10

// repeatRoundsLimit is the number of consecutive consensus rounds with an
// identical round_signature that declares a cross-round stall.
const repeatRoundsLimit = 4

// EmitFunc records one consensus-subprotocol event.
type EmitFunc func(eventType string, payload map[string]any)

// Event type tags (spec.md §4.6).
const (
	EventPrecheckReviewStarted    = "proposal_precheck_review_started"
	EventPrecheckReviewError      = "proposal_precheck_review_error"
	EventReview                   = "proposal_review"
	EventDiscussionStarted        = "proposal_discussion_started"
	EventDiscussionError          = "proposal_discussion_error"
	EventDiscussionIncomplete     = "proposal_discussion_incomplete"
	EventConsensusRetry           = "proposal_consensus_retry"
	EventConsensusReached         = "proposal_consensus_reached"
	EventConsensusStalled         = "proposal_consensus_stalled"
	EventReviewPartial            = "proposal_review_partial"
	EventReviewUnavailable        = "proposal_review_unavailable"
	EventReviewContractViolation  = "proposal_review_contract_violation"
)

// Outcome is the terminal result of Run.
type Outcome struct {
	Decision string // "auto_approved" | "waiting_manual" | "failed_gate"
	Reason   taxonomy.Reason
}

const (
	DecisionAutoApproved = "auto_approved"
	DecisionWaitingManual = "waiting_manual"
	DecisionFailedGate    = "failed_gate"
)

// Subprotocol runs the proposal consensus subprotocol ahead of a task's
// main round loop.
type Subprotocol struct {
	Runner    *runner.Runner
	Adapters  *adapter.Registry
	Artifacts *storage.ArtifactStore
}

// New returns a Subprotocol wired to the given collaborators.
func New(r *runner.Runner, adapters *adapter.Registry, artifacts *storage.ArtifactStore) *Subprotocol {
	return &Subprotocol{Runner: r, Adapters: adapters, Artifacts: artifacts}
}

// reviewOutcome is one reviewer's parsed result for a precheck or proposal
// review stage.
type reviewOutcome struct {
	reviewer   string
	usable     bool
	actionable bool // false for a runtime-error synthetic output
	verdict    types.Verdict
	output     string
	issues     []Issue
}

// RunInput carries everything one Run call needs.
type RunInput struct {
	Task         *types.Task
	WorkspaceDir string
	Seed         string
	Emit         EmitFunc
}

// Run executes the subprotocol for target_rounds = 1 consensus round,
// returning the terminal Outcome.
func (s *Subprotocol) Run(ctx context.Context, in RunInput) Outcome {
	task := in.Task
	emit := in.Emit
	if emit == nil {
		emit = func(string, map[string]any) {}
	}

	seed := in.Seed
	var lastSignature string
	repeatCount := 0

	for round := 1; ; round++ {
		outcome, retry, signature := s.runConsensusRound(ctx, task, in.WorkspaceDir, seed, emit)
		if retry != "" {
			seed = retry
			continue
		}

		if outcome != nil {
			return *outcome
		}

		if signature == lastSignature {
			repeatCount++
		} else {
			lastSignature = signature
			repeatCount = 1
		}
		if repeatCount >= repeatRoundsLimit {
			s.writePendingProposal(task.ID, "cross-round stall", signature)
			emit(EventConsensusStalled, map[string]any{"reason": string(taxonomy.ReasonProposalConsensusStalledAcrossRounds)})
			return Outcome{Decision: DecisionWaitingManual, Reason: taxonomy.ReasonProposalConsensusStalledAcrossRounds}
		}
	}
}

// runConsensusRound executes steps 1-4 for a single consensus round.
// It returns (outcome, "", sig) on a terminal result, (nil, feedbackSeed,
// "") when the caller should retry with updated seed text immediately
// (handled internally up to retryLimit), or (nil, "", sig) when the round
// completed without consensus and the caller should check for a
// cross-round stall.
func (s *Subprotocol) runConsensusRound(ctx context.Context, task *types.Task, workspaceDir, seed string, emit EmitFunc) (outcome *Outcome, retrySeed string, signature string) {
	// Step 1: reviewer precheck, retried up to retryLimit on contract violation.
	var precheckReviews []reviewOutcome
	for attempt := 0; attempt < retryLimit; attempt++ {
		precheckReviews = s.runReviewStage(ctx, task, workspaceDir, seed, "precheck", emit)
		if allUnusable(precheckReviews) {
			return &Outcome{Decision: DecisionFailedGate, Reason: taxonomy.ReasonProposalPrecheckUnavailable}, "", ""
		}
		if violations := contractViolations(precheckReviews); len(violations) == 0 {
			break
		} else {
			emit(EventReviewContractViolation, map[string]any{"violations": violations})
			seed = appendFeedback(seed, "Contract violation: reviewers reporting BLOCKER/UNKNOWN must include at least one issue.")
			if attempt == retryLimit-1 {
				return &Outcome{Decision: DecisionWaitingManual, Reason: taxonomy.ReasonProposalConsensusStalledInRound}, "", ""
			}
		}
	}

	requiredIssues := mergeIssues(precheckReviews)
	precheckFeedback := mergeReviewText(precheckReviews)

	// Step 2: author proposal with issue responses, retried on incompleteness.
	var proposalText string
	var responses []IssueResponse
	proposalPrompt := fmt.Sprintf("%s\n\nContext: reviewer precheck feedback\n%s\n", seed, precheckFeedback)
	complete := false
	for attempt := 0; attempt < retryLimit; attempt++ {
		emit(EventDiscussionStarted, map[string]any{"attempt": attempt})
		result := s.invoke(ctx, task, task.AuthorParticipant, proposalPrompt, workspaceDir)
		if result.RuntimeError != "" {
			emit(EventDiscussionError, map[string]any{"error": result.RuntimeError})
			return &Outcome{Decision: DecisionFailedGate, Reason: taxonomy.ReasonProposalDiscussionIncomplete}, "", ""
		}
		proposalText = result.Output
		responses, _ = ParseIssueResponses(result.Output)
		if ValidateIssueResponses(requiredIssues, responses) {
			complete = true
			break
		}
		emit(EventDiscussionIncomplete, map[string]any{"attempt": attempt})
		proposalPrompt = appendFeedback(proposalPrompt, "Every required issue id needs a response; reject requires reason, alternative_plan, validation_commands, and evidence_paths.")
	}
	if !complete {
		return &Outcome{Decision: DecisionWaitingManual, Reason: taxonomy.ReasonProposalConsensusStalledInRound}, "", ""
	}

	// Step 3: proposal review.
	reviewReviews := s.runReviewStage(ctx, task, workspaceDir, proposalText, "proposal_review", emit)
	if allUnusable(reviewReviews) {
		return &Outcome{Decision: DecisionFailedGate, Reason: taxonomy.ReasonProposalReviewUnavailable}, "", ""
	}
	usableReviews := usableSubset(reviewReviews)
	if len(usableReviews) < len(reviewReviews) {
		emit(EventReviewPartial, map[string]any{"usable": len(usableReviews), "total": len(reviewReviews)})
	}

	// Step 4: consensus decision, retried within the round.
	for attempt := 0; attempt < retryLimit; attempt++ {
		if consensusReached(usableReviews) {
			emit(EventConsensusReached, map[string]any{"attempt": attempt})
			return s.approve(task, emit), "", ""
		}
		emit(EventConsensusRetry, map[string]any{"attempt": attempt})
		if attempt == retryLimit-1 {
			break
		}
		feedbackSeed := appendFeedback(proposalText, "Consensus not yet reached: address remaining reviewer blockers.")
		usableReviews = s.runReviewStage(ctx, task, workspaceDir, feedbackSeed, "proposal_review", emit)
	}

	sig := RoundSignature(requiredIssues, proposalText)
	return nil, "", sig
}

func (s *Subprotocol) approve(task *types.Task, emit EmitFunc) *Outcome {
	if task.SelfLoopMode == 1 {
		emit("author_decision", map[string]any{"decision": "approved", "note": "auto_approved_by_self_loop_mode"})
		return &Outcome{Decision: DecisionAutoApproved, Reason: taxonomy.ReasonAuthorApproved}
	}
	return &Outcome{Decision: DecisionWaitingManual, Reason: taxonomy.ReasonAuthorConfirmationRequired}
}

func (s *Subprotocol) runReviewStage(ctx context.Context, task *types.Task, workspaceDir, seed, stage string, emit EmitFunc) []reviewOutcome {
	out := make([]reviewOutcome, 0, len(task.ReviewerParticipants))
	for _, reviewer := range task.ReviewerParticipants {
		emit(EventPrecheckReviewStarted, map[string]any{"reviewer": reviewer, "stage": stage})
		result := s.invoke(ctx, task, reviewer, seed, workspaceDir)

		if result.RuntimeError != "" {
			emit(EventPrecheckReviewError, map[string]any{"reviewer": reviewer, "error": result.RuntimeError})
			out = append(out, reviewOutcome{reviewer: reviewer, usable: false, actionable: false})
			continue
		}
		issues, _ := ParseIssues(result.Output)
		emit(EventReview, map[string]any{"reviewer": reviewer, "stage": stage, "verdict": string(result.Verdict), "issues": len(issues)})
		out = append(out, reviewOutcome{
			reviewer:   reviewer,
			usable:     true,
			actionable: true,
			verdict:    result.Verdict,
			output:     result.Output,
			issues:     issues,
		})
	}
	return out
}

func (s *Subprotocol) invoke(ctx context.Context, task *types.Task, participant, prompt, workspaceDir string) runner.RunResult {
	a := s.Adapters.Resolve(participant)
	argv := a.BuildArgv(adapter.BuildArgvInput{
		Base:  a.Name(),
		Model: task.ModelOverrides[participant],
	})
	return s.Runner.Run(ctx, runner.Options{
		Adapter:        a,
		Argv:           argv,
		Prompt:         prompt,
		WorkspaceDir:   workspaceDir,
		TimeoutSeconds: task.PhaseTimeouts.Proposal.Seconds(),
	})
}

func (s *Subprotocol) writePendingProposal(taskID, summary, signature string) {
	if s.Artifacts == nil {
		return
	}
	_ = s.Artifacts.WriteArtifact(taskID, "pending_proposal", map[string]any{
		"summary":         summary,
		"round_signature": signature,
	})
}

func allUnusable(reviews []reviewOutcome) bool {
	for _, r := range reviews {
		if r.usable {
			return false
		}
	}
	return len(reviews) > 0
}

func usableSubset(reviews []reviewOutcome) []reviewOutcome {
	out := make([]reviewOutcome, 0, len(reviews))
	for _, r := range reviews {
		if r.usable {
			out = append(out, r)
		}
	}
	return out
}

// contractViolations reports reviewers whose BLOCKER/UNKNOWN verdict
// carried no issues, for reviews produced by an actual (non-runtime-error)
// invocation.
func contractViolations(reviews []reviewOutcome) []string {
	var violations []string
	for _, r := range reviews {
		if !r.actionable {
			continue
		}
		if (r.verdict == types.VerdictBlocker || r.verdict == types.VerdictUnknown) && len(r.issues) == 0 {
			violations = append(violations, r.reviewer)
		}
	}
	return violations
}

func consensusReached(reviews []reviewOutcome) bool {
	for _, r := range reviews {
		if !r.actionable {
			continue
		}
		if r.verdict != types.VerdictNoBlocker {
			return false
		}
	}
	return true
}

func mergeIssues(reviews []reviewOutcome) []Issue {
	seen := make(map[string]bool)
	var out []Issue
	for _, r := range reviews {
		for _, issue := range r.issues {
			if seen[issue.ID] {
				continue
			}
			seen[issue.ID] = true
			out = append(out, issue)
		}
	}
	return out
}

func mergeReviewText(reviews []reviewOutcome) string {
	var parts []string
	for _, r := range reviews {
		if r.output != "" {
			parts = append(parts, r.output)
		}
	}
	return strings.Join(parts, "\n\n")
}

func appendFeedback(seed, note string) string {
	return fmt.Sprintf("%s\n\nFeedback: %s\n", seed, note)
}
