// Package orchestrator implements OrchestratorService (spec.md §4.7): the
// only component that mutates the Repository outside unit-test helpers. It
// owns task creation and sandbox bootstrap, the start_task flow (start-slot
// dedup, resume guard, preflight risk gate, HEAD-SHA capture, the consensus
// subprotocol or capacity claim, the main workflow run, evidence-manifest
// validation, and auto-merge dispatch), and the remaining lifecycle
// operations: submit_author_decision, promote_selected_round,
// force_fail_task, mark_failed_system, and request_cancel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/agentforge/engine/internal/config"
	"github.com/agentforge/engine/internal/consensus"
	"github.com/agentforge/engine/internal/gate"
	"github.com/agentforge/engine/internal/storage"
	"github.com/agentforge/engine/internal/taxonomy"
	"github.com/agentforge/engine/internal/types"
	"github.com/agentforge/engine/internal/workflow"
)

// Repository is the subset of storage.Repository the orchestrator needs.
// Defined locally (rather than depending on the concrete type) so tests can
// supply an in-memory fake, matching internal/gate's RunningTaskLister seam.
type Repository interface {
	CreateTask(ctx context.Context, task *types.Task) (*types.Task, error)
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTasks(ctx context.Context, limit int) ([]*types.Task, error)
	UpdateStatus(ctx context.Context, id string, status types.Status, reason string, rounds *int) (*types.Task, error)
	UpdateStatusIf(ctx context.Context, id string, expected, newStatus types.Status, reason string, rounds *int, cancelRequested *bool) (*types.Task, error)
	SetCancelRequested(ctx context.Context, id string, cancel bool) (*types.Task, error)
	IsCancelRequested(ctx context.Context, id string) (bool, error)
	AppendEvent(ctx context.Context, id, eventType string, payload map[string]any, round int) (*types.TaskEvent, error)
	ListEvents(ctx context.Context, id string) ([]*types.TaskEvent, error)
}

// AutoMerger applies a workspace snapshot (or a live workspace directory)
// onto a merge target. It is an external collaborator: the core engine
// never shells out to a VCS merge/PR-creation tool directly.
type AutoMerger interface {
	Merge(ctx context.Context, sourceDir, targetDir string, manifest map[string]any) (summary string, err error)
}

// OutcomeRecorder persists a terminal task's outcome for later recall. It is
// the external seam referenced by SPEC_FULL.md's memory resolution: core
// only calls the hook at the fixed point a task goes terminal.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, task *types.Task) error
}

// Service is OrchestratorService.
type Service struct {
	Repo      Repository
	Artifacts *storage.ArtifactStore
	Gate      *gate.Gate
	Engine    *workflow.Engine
	Consensus *consensus.Subprotocol
	Config    config.Config

	// AutoMerge is consulted on a passed+auto_merge task and by
	// PromoteSelectedRound. Nil disables both (promotion errors with
	// ErrAutoMergeNotConfigured; a passed auto_merge task still completes,
	// the dispatch step just emits no merge and a missing-collaborator
	// event).
	AutoMerge AutoMerger

	// Memory is consulted at task-terminal points. Optional.
	Memory OutcomeRecorder

	// RiskPolicy and RiskCheckers configure the preflight risk gate. A
	// zero-value RiskPolicy with no checkers always passes.
	RiskPolicy   RiskPolicy
	RiskCheckers map[string]RiskChecker

	// AllowedMergeBranches restricts which branch the merge target may be
	// on for promotion/auto-merge to proceed. Empty permits any branch.
	AllowedMergeBranches []string

	// Logger receives one entry per task-level state transition and
	// runtime error. Nil falls back to a text handler on stderr.
	Logger *slog.Logger
}

// New returns a Service wired to its collaborators.
func New(repo Repository, artifacts *storage.ArtifactStore, g *gate.Gate, engine *workflow.Engine, sub *consensus.Subprotocol, cfg config.Config) *Service {
	return &Service{Repo: repo, Artifacts: artifacts, Gate: g, Engine: engine, Consensus: sub, Config: cfg}
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// CreateTask validates input, resolves/bootstraps a sandbox if required,
// computes the workspace fingerprint, and persists the task as queued.
func (s *Service) CreateTask(ctx context.Context, task *types.Task) (*types.Task, error) {
	if err := validateCreateInput(task, s.Config); err != nil {
		return nil, err
	}
	applyPhaseTimeoutDefaults(task, s.Config)

	if task.ID == "" {
		task.ID = types.NewTaskID()
	}

	sandboxPath := ""
	if task.SandboxMode {
		base, err := ResolveSandboxBase(s.Config.Sandbox)
		if err != nil {
			return nil, err
		}
		sandboxPath = SandboxPathFor(base, task.ID)
		if err := BootstrapSandbox(task.ProjectPath, sandboxPath); err != nil {
			return nil, fmt.Errorf("bootstrap sandbox: %w", err)
		}
		task.SandboxPath = sandboxPath
		task.SandboxGenerated = true
		task.WorkspacePath = sandboxPath
	} else {
		task.WorkspacePath = task.ProjectPath
	}

	cleanupSandbox := func() {
		if task.SandboxGenerated {
			_ = RemoveSandbox(sandboxPath)
		}
	}

	fingerprint, err := ComputeWorkspaceFingerprint(task.WorkspacePath, s.Config.Sandbox)
	if err != nil {
		cleanupSandbox()
		return nil, err
	}
	task.WorkspaceFingerprint = fingerprint

	created, err := s.Repo.CreateTask(ctx, task)
	if err != nil {
		cleanupSandbox()
		return nil, err
	}
	if err := s.Artifacts.InitTask(created.ID); err != nil {
		cleanupSandbox()
		return nil, err
	}
	if err := s.Artifacts.WriteState(created); err != nil {
		cleanupSandbox()
		return nil, err
	}
	return created, nil
}

func applyPhaseTimeoutDefaults(task *types.Task, cfg config.Config) {
	proposal, discussion, implementation, review, command := cfg.Phases.Durations()
	if task.PhaseTimeouts.Proposal == 0 {
		task.PhaseTimeouts.Proposal = proposal
	}
	if task.PhaseTimeouts.Discussion == 0 {
		task.PhaseTimeouts.Discussion = discussion
	}
	if task.PhaseTimeouts.Implementation == 0 {
		task.PhaseTimeouts.Implementation = implementation
	}
	if task.PhaseTimeouts.Review == 0 {
		task.PhaseTimeouts.Review = review
	}
	if task.PhaseTimeouts.Command == 0 {
		task.PhaseTimeouts.Command = command
	}
}

// ListTasks returns up to limit tasks (negative limit: unlimited).
func (s *Service) ListTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	return s.Repo.ListTasks(ctx, limit)
}

// GetTask returns a single task by id.
func (s *Service) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return s.Repo.GetTask(ctx, id)
}

// ListEvents implements list_events (spec.md §6): reads from the
// repository, falling back to the artifact mirror's events.jsonl only when
// the repository no longer has the task at all (e.g. purged but artifacts
// retained, or a repository restored from an older backup) — as opposed to
// a task the repository knows but that genuinely has zero events yet.
func (s *Service) ListEvents(ctx context.Context, id string) ([]*types.TaskEvent, error) {
	if _, err := s.Repo.GetTask(ctx, id); err != nil {
		if errors.Is(err, storage.ErrTaskNotFound) {
			return s.Artifacts.ReadEvents(id)
		}
		return nil, err
	}
	return s.Repo.ListEvents(ctx, id)
}

// StartTask runs the full start_task flow described in spec.md §4.7.
func (s *Service) StartTask(ctx context.Context, id string) (*types.Task, error) {
	lease, ok := s.Gate.TryAcquireStart(id)
	if !ok {
		s.emit(ctx, id, "start_deduped", 0, nil)
		return s.Repo.GetTask(ctx, id)
	}
	defer lease.Release()

	task, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() || task.Status == types.StatusRunning || task.Status == types.StatusWaitingManual {
		return task, nil
	}

	recomputed, err := ComputeWorkspaceFingerprint(task.WorkspacePath, s.Config.Sandbox)
	if err != nil {
		return nil, err
	}
	if !ValidateResumeGuard(task.WorkspaceFingerprint, recomputed) {
		return s.transitionOrCurrent(ctx, id, task.Status, types.StatusWaitingManual, string(taxonomy.ReasonWorkspaceResumeGuardMismatch), nil)
	}

	if ok, detail := PreflightRiskGate(ctx, s.RiskPolicy, task.WorkspacePath, s.RiskCheckers); !ok {
		s.emit(ctx, id, "preflight_risk_gate_blocked", 0, map[string]any{"detail": detail})
		return s.transitionOrCurrent(ctx, id, task.Status, types.StatusFailedGate, string(taxonomy.ReasonPreflightRiskGateFailed), nil)
	}
	s.emit(ctx, id, "preflight_risk_gate_passed", 0, nil)

	workspaceHead, err := CaptureHeadSHA(ctx, task.WorkspacePath)
	if err != nil {
		return nil, err
	}
	var mergeTargetHead string
	if task.MergeTargetPath != "" {
		mergeTargetHead, err = CaptureHeadSHA(ctx, task.MergeTargetPath)
		if err != nil {
			return nil, err
		}
		if mergeTargetHead == "" && IsGitRepo(ctx, task.MergeTargetPath) {
			return s.transitionOrCurrent(ctx, id, task.Status, types.StatusFailedGate, string(taxonomy.ReasonHeadSHAMissing), nil)
		}
	}

	if task.LastGateReason != string(taxonomy.ReasonAuthorApproved) {
		outcome := s.Consensus.Run(ctx, consensus.RunInput{
			Task:         task,
			WorkspaceDir: task.WorkspacePath,
			Seed:         fmt.Sprintf("Task: %s\n\n%s\n", task.Title, task.Description),
			Emit:         func(t string, p map[string]any) { s.emit(ctx, id, t, 0, p) },
		})

		switch outcome.Decision {
		case consensus.DecisionAutoApproved:
			task, err = s.transitionOrCurrent(ctx, id, task.Status, types.StatusQueued, string(outcome.Reason), nil)
			if err != nil || task.LastGateReason != string(outcome.Reason) {
				return task, err
			}
		case consensus.DecisionWaitingManual:
			return s.transitionOrCurrent(ctx, id, task.Status, types.StatusWaitingManual, string(outcome.Reason), nil)
		default:
			return s.transitionOrCurrent(ctx, id, task.Status, types.StatusFailedGate, string(outcome.Reason), nil)
		}
	}

	capLease, ok, err := s.Gate.TryAcquireCapacity(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.emit(ctx, id, "start_deferred", 0, map[string]any{"reason": string(taxonomy.ReasonConcurrencyLimit)})
		return s.transitionOrCurrent(ctx, id, task.Status, types.StatusQueued, string(taxonomy.ReasonConcurrencyLimit), nil)
	}
	defer capLease.Release()

	running, err := s.Repo.UpdateStatusIf(ctx, id, task.Status, types.StatusRunning, "", nil, nil)
	if errors.Is(err, storage.ErrCASMismatch) {
		return s.Repo.GetTask(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	task = running
	s.mirrorState(task)

	runResult := s.Engine.Run(ctx, workflow.RunInput{
		Task:         task,
		WorkspaceDir: task.WorkspacePath,
		Emit:         func(eventType string, round int, payload map[string]any) { s.emit(ctx, id, eventType, round, payload) },
		Canceled:     func() bool { canceled, _ := s.Repo.IsCancelRequested(ctx, id); return canceled },
	})

	finalStatus := runResult.Status
	finalReason := string(runResult.GateReason)

	if finalStatus == types.StatusPassed {
		if err := s.Artifacts.WriteArtifact(id, "evidence_manifest", map[string]any{
			"task_id":        id,
			"rounds":         runResult.Rounds,
			"gate_reason":    finalReason,
			"workspace_head": workspaceHead,
		}); err != nil {
			finalStatus = types.StatusFailedGate
			finalReason = string(taxonomy.ReasonPrecompletionEvidenceMissing)
		}
	}

	rounds := runResult.Rounds
	terminal, err := s.Repo.UpdateStatusIf(ctx, id, types.StatusRunning, finalStatus, finalReason, &rounds, nil)
	if errors.Is(err, storage.ErrCASMismatch) {
		return s.Repo.GetTask(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	task = terminal
	s.mirrorState(task)
	_ = s.Artifacts.WriteFinalReport(id, task.Status, task.LastGateReason)

	if task.Status == types.StatusPassed && task.AutoMerge {
		task = s.dispatchAutoMerge(ctx, task, mergeTargetHead)
	}

	if task.Status != types.StatusPassed {
		_ = s.Artifacts.WriteArtifact(id, "regression_case", map[string]any{
			"task_id": id, "reason": task.LastGateReason, "rounds": task.RoundsCompleted,
		})
	}

	if task.Status == types.StatusPassed && task.SandboxGenerated && task.SandboxMode && task.SandboxCleanupOnPass {
		if err := RemoveSandbox(task.SandboxPath); err != nil {
			s.emit(ctx, id, "sandbox_cleanup_failed", 0, map[string]any{"error": err.Error()})
		}
	}

	if s.Memory != nil {
		_ = s.Memory.RecordOutcome(ctx, task)
	}

	return task, nil
}

// transitionOrCurrent applies a CAS transition and, on a lost race, returns
// the task's current persisted view instead of an error — the general
// "honor whichever external state won" posture spec.md §5 requires of every
// CAS along this path.
func (s *Service) transitionOrCurrent(ctx context.Context, id string, expected, newStatus types.Status, reason string, rounds *int) (*types.Task, error) {
	task, err := s.Repo.UpdateStatusIf(ctx, id, expected, newStatus, reason, rounds, nil)
	if errors.Is(err, storage.ErrCASMismatch) {
		s.log().Info("task transition lost CAS race, honoring current state", "task_id", id, "expected", string(expected), "attempted", string(newStatus))
		return s.Repo.GetTask(ctx, id)
	}
	if err != nil {
		s.log().Error("task transition failed", "task_id", id, "from", string(expected), "to", string(newStatus), "error", err.Error())
		return nil, err
	}
	s.log().Info("task transitioned", "task_id", id, "from", string(expected), "to", string(newStatus), "reason", reason)
	s.mirrorState(task)
	return task, nil
}

// dispatchAutoMerge implements the post-terminal auto-merge checks and
// dispatch. It may downgrade an already-terminal passed task back to
// failed_gate, per spec.md §4.7's explicit ordering (CAS to terminal
// happens first; the merge-specific guards run immediately after and can
// still veto).
func (s *Service) dispatchAutoMerge(ctx context.Context, task *types.Task, mergeTargetHeadAtStart string) *types.Task {
	currentHead, err := CaptureHeadSHA(ctx, task.MergeTargetPath)
	if err != nil || currentHead != mergeTargetHeadAtStart {
		return s.downgradeTerminal(ctx, task, string(taxonomy.ReasonHeadSHAMismatch))
	}

	if ok, detail := PromotionGuard(ctx, task.MergeTargetPath, s.AllowedMergeBranches); !ok {
		s.emit(ctx, task.ID, "promotion_guard_blocked", 0, map[string]any{"detail": detail})
		return s.downgradeTerminal(ctx, task, string(taxonomy.ReasonPromotionGuardBlocked))
	}

	if s.AutoMerge == nil {
		s.emit(ctx, task.ID, "auto_merge_unavailable", 0, nil)
		return task
	}

	summary, err := s.AutoMerge.Merge(ctx, task.WorkspacePath, task.MergeTargetPath, map[string]any{
		"task_id": task.ID, "rounds": task.RoundsCompleted,
	})
	if err != nil {
		s.log().Error("auto-merge failed", "task_id", task.ID, "error", err.Error())
		s.emit(ctx, task.ID, "auto_merge_failed", 0, map[string]any{"error": err.Error()})
		return s.downgradeTerminal(ctx, task, fmt.Sprintf("%s: %s", taxonomy.ReasonAutoMergeError, err.Error()))
	}
	s.log().Info("auto-merge completed", "task_id", task.ID, "summary", summary)
	s.emit(ctx, task.ID, "auto_merge_completed", 0, map[string]any{"summary": summary})
	return task
}

func (s *Service) downgradeTerminal(ctx context.Context, task *types.Task, reason string) *types.Task {
	rounds := task.RoundsCompleted
	updated, err := s.Repo.UpdateStatusIf(ctx, task.ID, types.StatusPassed, types.StatusFailedGate, reason, &rounds, nil)
	if err != nil {
		s.log().Error("task downgrade failed", "task_id", task.ID, "reason", reason, "error", err.Error())
		return task
	}
	s.log().Info("task downgraded from passed", "task_id", task.ID, "reason", reason)
	s.mirrorState(updated)
	_ = s.Artifacts.WriteFinalReport(task.ID, updated.Status, reason)
	return updated
}

// SubmitAuthorDecision implements submit_author_decision: only valid in
// waiting_manual.
func (s *Service) SubmitAuthorDecision(ctx context.Context, id, decision, note string) (*types.Task, error) {
	task, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != types.StatusWaitingManual {
		return nil, ErrNotWaitingManual
	}

	switch decision {
	case "approve":
		return s.transitionOrCurrent(ctx, id, types.StatusWaitingManual, types.StatusQueued, string(taxonomy.ReasonAuthorApproved), nil)
	case "reject":
		return s.transitionOrCurrent(ctx, id, types.StatusWaitingManual, types.StatusCanceled, string(taxonomy.ReasonAuthorRejected), nil)
	case "revise":
		updated, err := s.transitionOrCurrent(ctx, id, types.StatusWaitingManual, types.StatusQueued, string(taxonomy.ReasonAuthorFeedbackRequested), nil)
		if err != nil {
			return nil, err
		}
		s.emit(ctx, id, "author_feedback_requested", 0, map[string]any{"note": note})
		return updated, nil
	default:
		return nil, ErrUnknownDecision
	}
}

// PromotionSummary is the result of promote_selected_round.
type PromotionSummary struct {
	TaskID string
	Round  int
	Target string
	Detail string
}

// finishedRunning reports whether a task has stopped executing rounds,
// whichever way it stopped — including failed_gate, which is not
// IsTerminal() since a later StartTask may still run it again, but which is
// exactly the common outcome promote_selected_round exists to recover from
// (the automatic final round wasn't the one worth keeping).
func finishedRunning(status types.Status) bool {
	return status != types.StatusQueued && status != types.StatusRunning && status != types.StatusWaitingManual
}

// PromoteSelectedRound implements promote_selected_round: only for tasks
// that have finished running, started with max_rounds>1 and
// auto_merge=false.
func (s *Service) PromoteSelectedRound(ctx context.Context, id string, round int, mergeTargetPath string) (*PromotionSummary, error) {
	task, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !finishedRunning(task.Status) || task.MaxRounds <= 1 || task.AutoMerge {
		return nil, ErrNotPromotable
	}

	snapshotDir, err := s.Artifacts.RoundSnapshotDir(id, round)
	if err != nil {
		return nil, err
	}
	if empty, err := dirIsEmpty(snapshotDir); err != nil {
		return nil, err
	} else if empty {
		return nil, ErrRoundSnapshotNotFound
	}

	target := mergeTargetPath
	if target == "" {
		target = task.MergeTargetPath
	}
	if target == "" {
		target = task.ProjectPath
	}
	if target == "" {
		return nil, ErrMergeTargetUnresolved
	}

	if ok, detail := PromotionGuard(ctx, target, s.AllowedMergeBranches); !ok {
		return nil, fmt.Errorf("promotion guard blocked: %s", detail)
	}
	if s.AutoMerge == nil {
		return nil, ErrAutoMergeNotConfigured
	}

	summary, err := s.AutoMerge.Merge(ctx, snapshotDir, target, map[string]any{"task_id": id, "round": round})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, id, "round_promoted", round, map[string]any{"target": target, "summary": summary})
	return &PromotionSummary{TaskID: id, Round: round, Target: target, Detail: summary}, nil
}

// ForceFailTask implements force_fail_task: terminal (passed|canceled) is a
// no-op; otherwise CAS to failed_system with cancel_requested=true.
func (s *Service) ForceFailTask(ctx context.Context, id, reason string) (*types.Task, error) {
	task, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == types.StatusPassed || task.Status == types.StatusCanceled {
		return task, nil
	}

	cancel := true
	updated, err := s.Repo.UpdateStatusIf(ctx, id, task.Status, types.StatusFailedSystem, reason, nil, &cancel)
	if errors.Is(err, storage.ErrCASMismatch) {
		s.log().Info("force_fail_task lost CAS race, honoring current state", "task_id", id)
		return s.Repo.GetTask(ctx, id)
	}
	if err != nil {
		s.log().Error("force_fail_task failed", "task_id", id, "error", err.Error())
		return nil, err
	}
	s.log().Info("task force-failed", "task_id", id, "reason", reason)
	s.mirrorState(updated)
	_ = s.Artifacts.WriteFinalReport(id, updated.Status, reason)
	if s.Memory != nil {
		_ = s.Memory.RecordOutcome(ctx, updated)
	}
	return updated, nil
}

// MarkFailedSystem implements mark_failed_system.
func (s *Service) MarkFailedSystem(ctx context.Context, id, reason string) (*types.Task, error) {
	task, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case task.Status == types.StatusRunning:
		updated, err := s.Repo.UpdateStatusIf(ctx, id, types.StatusRunning, types.StatusFailedSystem, reason, nil, nil)
		if errors.Is(err, storage.ErrCASMismatch) {
			s.log().Info("mark_failed_system lost CAS race, honoring current state", "task_id", id)
			return s.Repo.GetTask(ctx, id)
		}
		if err != nil {
			s.log().Error("mark_failed_system failed", "task_id", id, "error", err.Error())
			return nil, err
		}
		s.log().Info("task marked failed_system", "task_id", id, "reason", reason)
		s.mirrorState(updated)
		return updated, nil
	case task.Status == types.StatusPassed, task.Status == types.StatusCanceled, task.Status == types.StatusFailedSystem:
		return task, nil
	default:
		updated, err := s.Repo.UpdateStatus(ctx, id, types.StatusFailedSystem, reason, nil)
		if err != nil {
			s.log().Error("mark_failed_system failed", "task_id", id, "error", err.Error())
			return nil, err
		}
		s.log().Info("task marked failed_system", "task_id", id, "reason", reason)
		s.mirrorState(updated)
		return updated, nil
	}
}

// GateInput carries an externally-supplied verification/review result for
// the manual gate endpoint.
type GateInput struct {
	TestsOK          bool
	LintOK           bool
	ReviewerVerdicts []types.Verdict
}

// EvaluateGate implements evaluate_gate (spec.md §6): a manual gate
// endpoint that applies the identical pass/fail rule workflow.Engine uses
// at the close of a round (workflow.EvaluateGate) to an externally-supplied
// result, for operators driving the gate outside the automatic workflow
// loop. Only valid while the task is running; downgrades to failed_gate on
// any non-passing reason, otherwise transitions to passed.
func (s *Service) EvaluateGate(ctx context.Context, id string, in GateInput) (*types.Task, error) {
	task, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != types.StatusRunning {
		return nil, ErrNotRunning
	}

	reason := workflow.EvaluateGate(in.TestsOK, in.LintOK, in.ReviewerVerdicts)
	s.emit(ctx, id, "manual_gate", task.RoundsCompleted, map[string]any{
		"tests_ok": in.TestsOK, "lint_ok": in.LintOK, "reason": string(reason),
	})

	newStatus := types.StatusFailedGate
	if reason == taxonomy.ReasonPassed {
		newStatus = types.StatusPassed
	}
	rounds := task.RoundsCompleted
	updated, err := s.transitionOrCurrent(ctx, id, types.StatusRunning, newStatus, string(reason), &rounds)
	if err != nil {
		return nil, err
	}
	_ = s.Artifacts.WriteFinalReport(id, updated.Status, updated.LastGateReason)
	if updated.Status != types.StatusPassed {
		_ = s.Artifacts.WriteArtifact(id, "regression_case", map[string]any{
			"task_id": id, "reason": updated.LastGateReason, "rounds": updated.RoundsCompleted,
		})
	}
	if s.Memory != nil {
		_ = s.Memory.RecordOutcome(ctx, updated)
	}
	return updated, nil
}

// RequestCancel implements request_cancel.
func (s *Service) RequestCancel(ctx context.Context, id string) (*types.Task, error) {
	task, err := s.Repo.SetCancelRequested(ctx, id, true)
	if err != nil {
		s.log().Error("request_cancel failed", "task_id", id, "error", err.Error())
		return nil, err
	}
	s.log().Info("cancel requested", "task_id", id)
	s.emit(ctx, id, "cancel_requested", 0, nil)
	s.mirrorState(task)
	return task, nil
}

func (s *Service) emit(ctx context.Context, taskID, eventType string, round int, payload map[string]any) {
	event, err := s.Repo.AppendEvent(ctx, taskID, eventType, payload, round)
	if err != nil {
		return
	}
	_ = s.Artifacts.AppendEvent(event)
}

func (s *Service) mirrorState(task *types.Task) {
	_ = s.Artifacts.WriteState(task)
}

func dirIsEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
