// Package workflow implements the per-round staged protocol that drives a
// task from its first round to a terminal gate outcome: debate precheck,
// discussion, implementation, review, verification, the pre-completion
// checklist, an optional architecture audit, and gate evaluation. The
// engine never touches repository state directly; it emits events to an
// injected callback and checks cancellation via an injected predicate.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentforge/engine/internal/adapter"
	"github.com/agentforge/engine/internal/command"
	"github.com/agentforge/engine/internal/runner"
	"github.com/agentforge/engine/internal/storage"
	"github.com/agentforge/engine/internal/taxonomy"
	"github.com/agentforge/engine/internal/types"
	"github.com/agentforge/engine/internal/worker"
)

// EmitFunc records one workflow event. round is 0 for task-level events
// not scoped to a particular round.
type EmitFunc func(eventType string, round int, payload map[string]any)

// CancelPredicate reports whether the task's cancellation has been
// requested since the run started.
type CancelPredicate func() bool

// ArchAuditor runs the optional architecture audit over a workspace,
// reporting pass/fail and a human-readable detail string. A nil Auditor
// on Engine disables the step entirely.
type ArchAuditor func(ctx context.Context, workspaceDir string) (ok bool, detail string)

// Recaller resolves a short context string to inject ahead of round 1's
// discussion stage, keyed on the task's author participant. A nil Recaller
// on Engine, or task.MemoryMode == off, disables recall entirely.
type Recaller interface {
	Recall(ctx context.Context, participant, query string) (recalled string, ok bool)
}

// RunResult is the outcome of a complete engine Run call (spec.md §4.5's
// RunResult).
type RunResult struct {
	Status     types.Status
	Rounds     int
	GateReason taxonomy.Reason
}

// Engine executes the staged round protocol for one task at a time. It
// holds no per-task state between Run calls; callers construct a fresh
// ProgressTracker and PromptCacheTracker per task (Run does this
// internally).
type Engine struct {
	Runner    *runner.Runner
	Commands  *command.Executor
	Adapters  *adapter.Registry
	ArchAudit ArchAuditor // optional
	Memory    Recaller    // optional

	// Artifacts, when non-nil and the task has MaxRounds > 1 with AutoMerge
	// off, enables round-artifact capture: a baseline workspace snapshot
	// before round 1 and a diff snapshot after every round (spec.md §4.5's
	// "Round-artifact capture").
	Artifacts *storage.ArtifactStore

	// Logger receives one entry per round-level state transition
	// (cancellation, deadline, gate outcome, strategy shift). Nil falls
	// back to a text handler on stderr.
	Logger *slog.Logger
}

// New returns an Engine wired to the given collaborators.
func New(r *runner.Runner, commands *command.Executor, adapters *adapter.Registry) *Engine {
	return &Engine{Runner: r, Commands: commands, Adapters: adapters}
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// RunInput carries everything one Run call needs.
type RunInput struct {
	Task         *types.Task
	WorkspaceDir string
	Emit         EmitFunc
	Canceled     CancelPredicate
}

// Run executes up to Task.MaxRounds rounds (or until Task.EvolveUntil in
// deadline mode), returning the terminal RunResult.
func (e *Engine) Run(ctx context.Context, in RunInput) RunResult {
	task := in.Task
	emit := in.Emit
	if emit == nil {
		emit = func(string, int, map[string]any) {}
	}

	progress := NewProgressTracker()
	cache := NewPromptCacheTracker()

	captureRounds := e.Artifacts != nil && task.MaxRounds > 1 && !task.AutoMerge
	baselineDir := ""
	if captureRounds {
		dir, err := e.Artifacts.RoundSnapshotDir(task.ID, 0)
		if err != nil {
			emit(EventRoundArtifactError, 0, map[string]any{"error": err.Error()})
			captureRounds = false
		} else if err := CopyTree(in.WorkspaceDir, dir, defaultSnapshotExclusions); err != nil {
			emit(EventRoundArtifactError, 0, map[string]any{"error": err.Error()})
			captureRounds = false
		} else {
			baselineDir = dir
		}
	}

	deadlineMode := task.EvolveUntil != nil

	for round := 1; ; round++ {
		// Step 1: cancellation check.
		if in.Canceled != nil && in.Canceled() {
			e.log().Info("workflow run stopped", "task_id", task.ID, "round", round, "reason", string(taxonomy.ReasonCanceled))
			emit(EventCanceled, round, nil)
			return RunResult{Status: types.StatusCanceled, Rounds: round - 1, GateReason: taxonomy.ReasonCanceled}
		}

		// Step 2: deadline check.
		if deadlineMode && time.Now().After(*task.EvolveUntil) {
			e.log().Info("workflow run stopped", "task_id", task.ID, "round", round, "reason", string(taxonomy.ReasonDeadlineReached))
			emit(EventDeadlineReached, round, nil)
			return RunResult{Status: types.StatusCanceled, Rounds: round - 1, GateReason: taxonomy.ReasonDeadlineReached}
		}

		emit(EventRoundStarted, round, nil)

		outcome := e.runRound(ctx, task, in.WorkspaceDir, round, emit, cache)

		if captureRounds {
			if newBaseline, err := e.captureRoundArtifact(task.ID, in.WorkspaceDir, baselineDir, round); err != nil {
				emit(EventRoundArtifactError, round, map[string]any{"error": err.Error()})
			} else {
				emit(EventRoundArtifactReady, round, map[string]any{"round": round})
				baselineDir = newBaseline
			}
		}

		if outcome.passed {
			e.log().Info("workflow round gate passed", "task_id", task.ID, "round", round)
			emit(EventGatePassed, round, map[string]any{"reason": string(taxonomy.ReasonPassed)})
			return RunResult{Status: types.StatusPassed, Rounds: round, GateReason: taxonomy.ReasonPassed}
		}

		e.log().Warn("workflow round gate failed", "task_id", task.ID, "round", round, "reason", string(outcome.reason))
		emit(EventGateFailed, round, map[string]any{"reason": string(outcome.reason)})

		shift := progress.Observe(outcome.reason, outcome.implementationOutput, outcome.reviewOutput, outcome.verification)
		if shift.Fired {
			e.log().Info("workflow strategy shifted", "task_id", task.ID, "round", round, "reason", string(outcome.reason), "hint", shift.Hint, "terminal", shift.Terminal)
			emit(EventStrategyShifted, round, map[string]any{"reason": string(outcome.reason), "hint": shift.Hint})
			if shift.Terminal {
				return RunResult{Status: types.StatusFailedGate, Rounds: round, GateReason: taxonomy.ReasonLoopNoProgress}
			}
		}

		if !deadlineMode && round >= task.MaxRounds {
			e.log().Info("workflow run stopped", "task_id", task.ID, "round", round, "reason", string(outcome.reason), "cause", "max_rounds_reached")
			return RunResult{Status: types.StatusFailedGate, Rounds: round, GateReason: outcome.reason}
		}
	}
}

// roundOutcome carries everything the loop-progress tracker and the
// return path need out of a single round.
type roundOutcome struct {
	passed                bool
	reason                taxonomy.Reason
	implementationOutput  string
	reviewOutput          string
	verification          VerificationSignature
}

// failResult is a sentinel roundOutcome used by early-exit branches within
// runRound; it carries a failure reason and nothing else.
func failResult(reason taxonomy.Reason) roundOutcome {
	return roundOutcome{passed: false, reason: reason}
}

// runRound executes steps 3 through 10 of the per-round state machine for
// a single round.
func (e *Engine) runRound(ctx context.Context, task *types.Task, workspaceDir string, round int, emit EmitFunc, cache *PromptCacheTracker) roundOutcome {
	var debateContext string

	// Step 3: debate precheck.
	if task.DebateMode && len(task.ReviewerParticipants) > 0 {
		emit(EventDebateStarted, round, nil)
		usable, attempted, combined := e.runDebatePrecheck(ctx, task, workspaceDir, round, emit, cache)
		if attempted && !usable {
			return failResult(taxonomy.ReasonDebateReviewUnavailable)
		}
		debateContext = combined
		emit(EventDebateCompleted, round, nil)
	}

	// Step 4: discussion. Memory recall runs once, ahead of round 1 only.
	var recalledContext string
	if round == 1 && task.MemoryMode != types.MemoryOff && e.Memory != nil {
		if recalled, ok := e.Memory.Recall(ctx, task.AuthorParticipant, task.Title); ok {
			recalledContext = recalled
			emit(EventMemoryHit, round, map[string]any{"participant": task.AuthorParticipant})
		}
	}

	emit(EventDiscussionStarted, round, nil)
	discussionPrompt := buildDiscussionPrompt(task, debateContext, recalledContext)
	discussionResult := e.invoke(ctx, task, task.AuthorParticipant, "discussion", round, discussionPrompt, workspaceDir, emit, cache)
	if discussionResult.RuntimeError != "" {
		return failResult(runtimeErrorReason(discussionResult.RuntimeError))
	}
	emit(EventDiscussion, round, map[string]any{"output": discussionResult.Output})

	// Step 5: implementation.
	emit(EventImplementationStarted, round, nil)
	implementationPrompt := buildImplementationPrompt(task, discussionResult.Output)
	implementationResult := e.invoke(ctx, task, task.AuthorParticipant, "implementation", round, implementationPrompt, workspaceDir, emit, cache)
	if implementationResult.RuntimeError != "" {
		return failResult(runtimeErrorReason(implementationResult.RuntimeError))
	}
	emit(EventImplementation, round, map[string]any{"output": implementationResult.Output})

	// Step 6: review.
	reviewOutputs := make([]string, 0, len(task.ReviewerParticipants))
	verdicts := make([]types.Verdict, 0, len(task.ReviewerParticipants))
	for _, reviewer := range task.ReviewerParticipants {
		emit(EventReviewStarted, round, map[string]any{"reviewer": reviewer})
		reviewPrompt := buildReviewPrompt(task, implementationResult.Output)
		result := e.invoke(ctx, task, reviewer, "review", round, reviewPrompt, workspaceDir, emit, cache)

		if result.RuntimeError != "" {
			synthetic := fmt.Sprintf("[review_error] %s", result.RuntimeError)
			emit(EventReviewError, round, map[string]any{"reviewer": reviewer, "error": result.RuntimeError})
			reviewOutputs = append(reviewOutputs, synthetic)
			verdicts = append(verdicts, types.VerdictUnknown)
			continue
		}
		emit(EventReview, round, map[string]any{"reviewer": reviewer, "output": result.Output, "verdict": string(result.Verdict)})
		reviewOutputs = append(reviewOutputs, result.Output)
		verdicts = append(verdicts, result.Verdict)
	}
	concatenatedReview := strings.Join(reviewOutputs, "\n\n")

	// Step 7: verify.
	emit(EventVerificationStarted, round, nil)
	testResult := e.Commands.Run(ctx, task.TestCommand, workspaceDir, task.PhaseTimeouts.Command, nil)
	lintResult := e.Commands.Run(ctx, task.LintCommand, workspaceDir, task.PhaseTimeouts.Command, nil)
	emit(EventVerification, round, map[string]any{
		"tests_ok": testResult.OK, "lint_ok": lintResult.OK,
		"tests_returncode": testResult.ReturnCode, "lint_returncode": lintResult.ReturnCode,
	})

	// Step 8: pre-completion checklist.
	evidenceText := strings.Join([]string{
		implementationResult.Output, concatenatedReview,
		testResult.Stdout, testResult.Stderr, lintResult.Stdout, lintResult.Stderr,
	}, "\n")
	checklist := EvaluateChecklist(ChecklistInput{
		TestCommandConfigured: strings.TrimSpace(task.TestCommand) != "",
		LintCommandConfigured: strings.TrimSpace(task.LintCommand) != "",
		VerificationExecuted:  true,
		TestsOK:               testResult.OK,
		LintOK:                lintResult.OK,
		EvidencePaths:         ExtractEvidencePaths(evidenceText, workspaceDir),
	})
	emit(EventPrecompletionChecklist, round, map[string]any{"passed": checklist.Passed, "reason": string(checklist.Reason), "evidence_paths": checklist.EvidencePaths})
	if !checklist.Passed {
		return roundOutcome{
			passed:               false,
			reason:               checklist.Reason,
			implementationOutput: implementationResult.Output,
			reviewOutput:         concatenatedReview,
			verification:         VerificationSignature{TestsOK: testResult.OK, LintOK: lintResult.OK, Reason: checklist.Reason},
		}
	}

	// Step 9: architecture audit (optional).
	if e.ArchAudit != nil {
		ok, detail := e.ArchAudit(ctx, workspaceDir)
		emit(EventArchitectureAudit, round, map[string]any{"ok": ok, "detail": detail})
		if !ok {
			return roundOutcome{
				passed:               false,
				reason:               taxonomy.ReasonArchitectureThresholdExceeded,
				implementationOutput: implementationResult.Output,
				reviewOutput:         concatenatedReview,
				verification:         VerificationSignature{TestsOK: testResult.OK, LintOK: lintResult.OK, Reason: taxonomy.ReasonArchitectureThresholdExceeded},
			}
		}
	}

	// Step 10: gate evaluation.
	gateReason := EvaluateGate(testResult.OK, lintResult.OK, verdicts)
	verification := VerificationSignature{TestsOK: testResult.OK, LintOK: lintResult.OK, Reason: gateReason}
	if gateReason == taxonomy.ReasonPassed {
		return roundOutcome{passed: true, reason: taxonomy.ReasonPassed, implementationOutput: implementationResult.Output, reviewOutput: concatenatedReview, verification: verification}
	}
	return roundOutcome{
		passed:               false,
		reason:               gateReason,
		implementationOutput: implementationResult.Output,
		reviewOutput:         concatenatedReview,
		verification:         verification,
	}
}

// EvaluateGate implements step 10's fixed reason priority: tests_failed,
// then lint_failed, then review_blocker, then review_unknown, else passed.
// Exported so the manual gate endpoint (spec.md §6 evaluate_gate) can apply
// the identical rule to externally-supplied results without duplicating it.
func EvaluateGate(testsOK, lintOK bool, verdicts []types.Verdict) taxonomy.Reason {
	if !testsOK {
		return taxonomy.ReasonTestsFailed
	}
	if !lintOK {
		return taxonomy.ReasonLintFailed
	}
	for _, v := range verdicts {
		if v == types.VerdictBlocker {
			return taxonomy.ReasonReviewBlocker
		}
	}
	for _, v := range verdicts {
		if v != types.VerdictNoBlocker {
			return taxonomy.ReasonReviewUnknown
		}
	}
	return taxonomy.ReasonPassed
}

// runDebatePrecheck runs every reviewer with a debate-review prompt,
// reports whether at least one usable review was produced (and whether any
// reviewer was attempted at all), and returns the concatenated usable text.
func (e *Engine) runDebatePrecheck(ctx context.Context, task *types.Task, workspaceDir string, round int, emit EmitFunc, cache *PromptCacheTracker) (usable bool, attempted bool, combined string) {
	var usableTexts []string
	for _, reviewer := range task.ReviewerParticipants {
		attempted = true
		emit(EventDebateReviewStarted, round, map[string]any{"reviewer": reviewer})
		prompt := buildDebatePrompt(task)
		result := e.invoke(ctx, task, reviewer, "debate_review", round, prompt, workspaceDir, emit, cache)

		if result.RuntimeError != "" {
			emit(EventDebateReviewError, round, map[string]any{"reviewer": reviewer, "error": result.RuntimeError})
			continue
		}
		if isUsableReview(result.Output) {
			usable = true
			usableTexts = append(usableTexts, result.Output)
			emit(EventDebateReview, round, map[string]any{"reviewer": reviewer, "output": result.Output})
		} else {
			emit(EventDebateReviewError, round, map[string]any{"reviewer": reviewer, "error": "unusable_review"})
		}
	}
	return usable, attempted, strings.Join(usableTexts, "\n\n")
}

func isUsableReview(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return !strings.Contains(text, "[review_error]")
}

// invoke resolves the participant's adapter, probes the prompt cache,
// builds argv, and runs it through the Runner.
func (e *Engine) invoke(ctx context.Context, task *types.Task, participant, stage string, round int, prompt, workspaceDir string, emit EmitFunc, cache *PromptCacheTracker) runner.RunResult {
	a := e.Adapters.Resolve(participant)

	model := task.ModelOverrides[participant]
	sig := ComputePromptSignature(model, "", task.AgentFeatures, prompt)
	probe := cache.Probe(participant, stage, sig)
	emit(EventPromptCacheProbe, round, map[string]any{"participant": participant, "stage": stage, "reuse_eligible": probe.ReuseEligible, "reused": probe.Reused})
	if probe.BreakReason != "" {
		emit(EventPromptCacheBreak, round, map[string]any{"participant": participant, "stage": stage, "reason": probe.BreakReason})
	}

	argv := a.BuildArgv(adapter.BuildArgvInput{
		Base:             a.Name(),
		Model:            model,
		ClaudeTeamAgents: task.AgentFeatures["claude_team_agents"] && a.Capabilities().ClaudeTeamAgents,
		CodexMultiAgents: task.AgentFeatures["codex_multi_agents"] && a.Capabilities().CodexMultiAgents,
	})

	return e.Runner.Run(ctx, runner.Options{
		Adapter:             a,
		Argv:                argv,
		Prompt:              prompt,
		WorkspaceDir:        workspaceDir,
		TimeoutSeconds:      phaseTimeout(task, stage).Seconds(),
		ControlSchemaCompat: false,
	})
}

// phaseTimeout maps an invocation stage name to its configured timeout.
func phaseTimeout(task *types.Task, stage string) time.Duration {
	switch stage {
	case "discussion":
		return task.PhaseTimeouts.Discussion
	case "implementation":
		return task.PhaseTimeouts.Implementation
	case "review", "debate_review":
		return task.PhaseTimeouts.Review
	default:
		return task.PhaseTimeouts.Implementation
	}
}

func runtimeErrorReason(msg string) taxonomy.Reason {
	switch {
	case strings.HasPrefix(msg, "provider_limit"):
		return taxonomy.ReasonProviderLimit
	case strings.HasPrefix(msg, "command_timeout"):
		return taxonomy.ReasonCommandTimeout
	case strings.HasPrefix(msg, "command_not_found"):
		return taxonomy.ReasonCommandNotFound
	case strings.HasPrefix(msg, "command_not_configured"):
		return taxonomy.ReasonCommandNotConfigured
	default:
		return taxonomy.ReasonCommandFailed
	}
}

func buildDiscussionPrompt(task *types.Task, debateContext, recalledContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n", task.Title, task.Description)
	if recalledContext != "" {
		fmt.Fprintf(&b, "\nContext: recalled from memory\n%s\n", recalledContext)
	}
	if debateContext != "" {
		fmt.Fprintf(&b, "\nContext: prior reviewer debate\n%s\n", debateContext)
	}
	return b.String()
}

func buildImplementationPrompt(task *types.Task, discussionOutput string) string {
	return fmt.Sprintf("Task: %s\n\nContext: discussion output\n%s\n", task.Title, discussionOutput)
}

func buildReviewPrompt(task *types.Task, implementationOutput string) string {
	return fmt.Sprintf("Task: %s\n\nContext: implementation to review\n%s\n", task.Title, implementationOutput)
}

func buildDebatePrompt(task *types.Task) string {
	return fmt.Sprintf("Task: %s\n\nContext: pre-round debate review\n%s\n", task.Title, task.Description)
}

// defaultSnapshotExclusions skips VCS and common ignorable directories
// when capturing a round's workspace manifest.
func defaultSnapshotExclusions(relPath string) bool {
	for _, prefix := range []string{".git/", "node_modules/", ".venv/", "__pycache__/"} {
		if strings.HasPrefix(relPath, prefix) {
			return true
		}
	}
	return false
}

// captureRoundArtifact snapshots the workspace into round-NNN-snapshot,
// diffs it against baselineDir, writes round-NNN.{patch,md,json} via the
// ArtifactStore, and returns the new snapshot's directory so the caller
// can diff incrementally next round.
func (e *Engine) captureRoundArtifact(taskID, workspaceDir, baselineDir string, round int) (string, error) {
	snapshotDir, err := e.Artifacts.RoundSnapshotDir(taskID, round)
	if err != nil {
		return "", err
	}
	if err := CopyTree(workspaceDir, snapshotDir, defaultSnapshotExclusions); err != nil {
		return "", err
	}

	before, err := CaptureManifest(baselineDir, defaultSnapshotExclusions)
	if err != nil {
		return "", err
	}
	after, err := CaptureManifest(snapshotDir, defaultSnapshotExclusions)
	if err != nil {
		return "", err
	}
	diff := DiffManifests(before, after)

	var patch strings.Builder
	for _, path := range diff.Modified {
		beforeContent, binary := readSnapshotFile(baselineDir, path)
		afterContent, afterBinary := readSnapshotFile(snapshotDir, path)
		if binary || afterBinary {
			fmt.Fprintf(&patch, "Binary files a/%s and b/%s differ\n", path, path)
			continue
		}
		patch.WriteString(UnifiedDiff(path, beforeContent, afterContent))
	}
	for _, path := range diff.Added {
		content, binary := readSnapshotFile(snapshotDir, path)
		if binary {
			fmt.Fprintf(&patch, "Binary file %s added\n", path)
			continue
		}
		patch.WriteString(UnifiedDiff(path, "", content))
	}
	for _, path := range diff.Removed {
		content, binary := readSnapshotFile(baselineDir, path)
		if binary {
			fmt.Fprintf(&patch, "Binary file %s removed\n", path)
			continue
		}
		patch.WriteString(UnifiedDiff(path, content, ""))
	}

	summary := SummarizeRoundDiff(round, diff)
	metadata := map[string]any{
		"round":    round,
		"added":    diff.Added,
		"modified": diff.Modified,
		"removed":  diff.Removed,
	}
	if err := e.Artifacts.WriteRoundReport(taskID, round, patch.String(), summary, metadata); err != nil {
		return "", err
	}
	return snapshotDir, nil
}

// readSnapshotFile reads a captured file's content, reporting binary if it
// exceeds worker.OversizedFileBytes or contains a NUL byte.
func readSnapshotFile(snapshotDir, relPath string) (content string, binary bool) {
	full := filepath.Join(snapshotDir, filepath.FromSlash(relPath))
	info, err := os.Stat(full)
	if err != nil {
		return "", true
	}
	if info.Size() > worker.OversizedFileBytes {
		return "", true
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", true
	}
	if worker.IsBinary(data) {
		return "", true
	}
	return string(data), false
}
