package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// headSHATimeout bounds every git plumbing call this package makes; HEAD
// resolution must never block task transitions for long.
const headSHATimeout = 10 * time.Second

// CaptureHeadSHA resolves HEAD in dir via "git rev-parse HEAD". If dir is
// not a git repository, it returns ("", nil): the caller treats an absent
// HEAD as "not version controlled" rather than an error, except at the
// merge target where spec.md §4.7 requires a hard failure instead.
func CaptureHeadSHA(ctx context.Context, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, headSHATimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if isNotAGitRepo(stderr.String()) {
			return "", nil
		}
		return "", fmt.Errorf("git rev-parse HEAD in %s: %w: %s", dir, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func isNotAGitRepo(stderr string) bool {
	return strings.Contains(stderr, "not a git repository")
}

// IsGitRepo reports whether dir is inside a git working tree.
func IsGitRepo(ctx context.Context, dir string) bool {
	ctx, cancel := context.WithTimeout(ctx, headSHATimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--is-inside-work-tree")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return false
	}
	return strings.TrimSpace(stdout.String()) == "true"
}

// CurrentBranch resolves the currently checked-out branch name in dir.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, headSHATimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--abbrev-ref", "HEAD")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git rev-parse --abbrev-ref HEAD in %s: %w: %s", dir, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// WorktreeClean reports whether dir has no staged or unstaged changes,
// via "git status --porcelain".
func WorktreeClean(ctx context.Context, dir string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, headSHATimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "-C", dir, "status", "--porcelain")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("git status --porcelain in %s: %w: %s", dir, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()) == "", nil
}

// ValidateResumeGuard reports whether a recomputed workspace fingerprint
// still matches the one captured at create_task time.
func ValidateResumeGuard(stored, recomputed string) bool {
	return stored != "" && stored == recomputed
}

// RiskTier is the resolved preflight risk classification for a workspace.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskElevated RiskTier = "elevated"
	RiskBlocked  RiskTier = "blocked"
)

// RiskPolicy is the minimal shape of a project's risk policy: named checks
// required to pass before a task of a given tier may start. The concrete
// scoring/classification logic is an external collaborator (spec.md treats
// "resolves risk tier from workspace profile" as pluggable); this package
// only enforces whatever tier and required checks it is handed.
type RiskPolicy struct {
	Tier           RiskTier
	RequiredChecks []string
}

// RiskChecker evaluates one named preflight check against a workspace,
// reporting pass/fail and a human-readable detail. Required checks not
// covered by any registered RiskChecker are treated as failed.
type RiskChecker func(ctx context.Context, workspaceDir string) (ok bool, detail string)

// PreflightRiskGate runs policy.RequiredChecks against checkers, returning
// ok=false (and a detail string) on the first failing or missing check.
// A zero-value RiskPolicy (no required checks) always passes: most tasks
// carry no project-level risk policy, and the gate is then a no-op by
// design rather than a blocker.
func PreflightRiskGate(ctx context.Context, policy RiskPolicy, workspaceDir string, checkers map[string]RiskChecker) (ok bool, detail string) {
	if policy.Tier == RiskBlocked {
		return false, "risk tier blocked by policy"
	}
	for _, name := range policy.RequiredChecks {
		checker, known := checkers[name]
		if !known {
			return false, fmt.Sprintf("required check %q has no registered checker", name)
		}
		if passed, d := checker(ctx, workspaceDir); !passed {
			return false, fmt.Sprintf("check %q failed: %s", name, d)
		}
	}
	return true, ""
}

// PromotionGuard checks that mergeTargetPath's current branch is in
// allowedBranches (an empty allowlist permits any branch) and that its
// worktree is clean, before an auto-merge or promote_selected_round may
// write to it.
func PromotionGuard(ctx context.Context, mergeTargetPath string, allowedBranches []string) (ok bool, detail string) {
	branch, err := CurrentBranch(ctx, mergeTargetPath)
	if err != nil {
		return false, err.Error()
	}
	if len(allowedBranches) > 0 {
		permitted := false
		for _, b := range allowedBranches {
			if b == branch {
				permitted = true
				break
			}
		}
		if !permitted {
			return false, fmt.Sprintf("branch %q is not in the promotion allowlist", branch)
		}
	}
	clean, err := WorktreeClean(ctx, mergeTargetPath)
	if err != nil {
		return false, err.Error()
	}
	if !clean {
		return false, "merge target worktree has uncommitted changes"
	}
	return true, ""
}
