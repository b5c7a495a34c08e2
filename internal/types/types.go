// Package types defines the persistent data model for the task lifecycle
// engine: tasks, append-only events, and the small closed enumerations that
// replace the dynamically-typed fields of the original implementation.
package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the task lifecycle state. A task in a terminal status (Passed,
// FailedSystem, Canceled) is not started again; the one transition out of
// one is the post-pass auto-merge check, which may downgrade Passed to
// FailedGate. FailedGate is not terminal: a later start may run the task
// again.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusRunning        Status = "running"
	StatusWaitingManual  Status = "waiting_manual"
	StatusPassed         Status = "passed"
	StatusFailedGate     Status = "failed_gate"
	StatusFailedSystem   Status = "failed_system"
	StatusCanceled       Status = "canceled"
)

// IsTerminal reports whether status never transitions again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailedSystem, StatusCanceled:
		return true
	default:
		return false
	}
}

// RepairMode controls how aggressively the author is asked to fix review
// findings.
type RepairMode string

const (
	RepairMinimal    RepairMode = "minimal"
	RepairBalanced   RepairMode = "balanced"
	RepairStructural RepairMode = "structural"
)

// MemoryMode controls whether the memory.Store is consulted/updated for a task.
type MemoryMode string

const (
	MemoryOff    MemoryMode = "off"
	MemoryBasic  MemoryMode = "basic"
	MemoryStrict MemoryMode = "strict"
)

// Verdict is the structured agent output contract's verdict enum.
type Verdict string

const (
	VerdictNoBlocker Verdict = "NO_BLOCKER"
	VerdictBlocker   Verdict = "BLOCKER"
	VerdictUnknown   Verdict = "UNKNOWN"
)

// NextAction is the structured agent output contract's next_action enum.
type NextAction string

const (
	NextActionPass  NextAction = "pass"
	NextActionRetry NextAction = "retry"
	NextActionStop  NextAction = "stop"
)

// PhaseTimeouts maps a workflow phase name to its configured timeout.
type PhaseTimeouts struct {
	Proposal       time.Duration
	Discussion     time.Duration
	Implementation time.Duration
	Review         time.Duration
	Command        time.Duration
}

// Task is the persistent record owned exclusively by the Repository.
type Task struct {
	ID string

	// Identity/config.
	Title               string
	Description         string
	AuthorParticipant   string
	ReviewerParticipants []string
	WorkspacePath       string
	ProjectPath         string
	MergeTargetPath     string
	SandboxMode         bool
	SandboxPath         string
	SandboxGenerated    bool
	SandboxCleanupOnPass bool
	WorkspaceFingerprint string

	// Execution policy.
	EvolutionLevel  int
	EvolveUntil     *time.Time
	Language        string
	ModelOverrides  map[string]string
	AgentFeatures   map[string]bool
	RepairMode      RepairMode
	MemoryMode      MemoryMode
	PhaseTimeouts   PhaseTimeouts
	PlainMode       bool
	StreamMode      bool
	DebateMode      bool
	SelfLoopMode    int
	AutoMerge       bool
	MaxRounds       int
	TestCommand     string
	LintCommand     string

	// Mutable runtime state.
	Status           Status
	LastGateReason   string
	RoundsCompleted  int
	CancelRequested  bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TaskEvent is an append-only record keyed by (TaskID, Seq).
type TaskEvent struct {
	TaskID    string
	Seq       int64
	Type      string
	Round     int
	Payload   map[string]any
	CreatedAt time.Time
}

// NewTaskID returns a fresh opaque task identifier: "task-" followed by 12
// hex characters, matching the original implementation's id shape
// (`f'task-{uuid4().hex[:12]}'`).
func NewTaskID() string {
	return "task-" + shortUUID()
}

// NewRunID returns a fresh opaque identifier for a single workflow run,
// used to label sandbox directories and round-artifact roots.
func NewRunID() string {
	return shortUUID()
}

func shortUUID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return raw[:12]
}
