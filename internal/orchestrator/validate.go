package orchestrator

import (
	"strings"
	"time"

	"github.com/agentforge/engine/internal/config"
	"github.com/agentforge/engine/internal/types"
)

const minPhaseTimeout = 10 * time.Second

var validLanguages = map[string]bool{"en": true, "zh": true}

var validRepairModes = map[types.RepairMode]bool{
	types.RepairMinimal:    true,
	types.RepairBalanced:   true,
	types.RepairStructural: true,
}

// validateCreateInput applies spec.md §4.7's create_task validation: strict
// field checks plus the sandbox-forcing rule for multi-round non-auto-merge
// tasks. It mutates task to fill in defaults (language, repair mode, sandbox
// mode) the way the original implementation treats missing fields as
// defaulted rather than rejected.
func validateCreateInput(task *types.Task, cfg config.Config) error {
	if strings.TrimSpace(task.AuthorParticipant) == "" {
		return types.ErrAuthorParticipantEmpty
	}
	if err := validateParticipant(task.AuthorParticipant, cfg); err != nil {
		return err
	}
	if len(task.ReviewerParticipants) == 0 {
		return types.ErrReviewerParticipantsEmpty
	}
	for _, r := range task.ReviewerParticipants {
		if err := validateParticipant(r, cfg); err != nil {
			return err
		}
	}

	if task.Language == "" {
		task.Language = "en"
	}
	if !validLanguages[task.Language] {
		return types.ErrLanguageInvalid
	}

	if task.RepairMode == "" {
		task.RepairMode = types.RepairBalanced
	}
	if !validRepairModes[task.RepairMode] {
		return types.ErrRepairModeInvalid
	}

	if task.MaxRounds < 1 {
		return types.ErrMaxRoundsInvalid
	}

	if err := validatePhaseTimeouts(task); err != nil {
		return err
	}

	if task.AutoMerge && strings.TrimSpace(task.MergeTargetPath) == "" {
		return types.ErrMergeTargetRequired
	}

	// Multi-round evolution without auto-merge must run in a disposable
	// sandbox: the caller gets to inspect intermediate rounds via
	// promote_selected_round without the workspace itself ever diverging
	// from the project directory mid-evolution.
	if task.MaxRounds > 1 && !task.AutoMerge {
		task.SandboxMode = true
	}

	return nil
}

func validateParticipant(participant string, cfg config.Config) error {
	provider, _, ok := strings.Cut(participant, "#")
	if !ok || provider == "" {
		return types.ErrParticipantFormatInvalid
	}
	if _, known := cfg.Providers[provider]; !known {
		return ErrUnknownProvider
	}
	return nil
}

func validatePhaseTimeouts(task *types.Task) error {
	durations := []time.Duration{
		task.PhaseTimeouts.Proposal,
		task.PhaseTimeouts.Discussion,
		task.PhaseTimeouts.Implementation,
		task.PhaseTimeouts.Review,
		task.PhaseTimeouts.Command,
	}
	for _, d := range durations {
		if d != 0 && d < minPhaseTimeout {
			return types.ErrPhaseTimeoutInvalid
		}
	}
	return nil
}
