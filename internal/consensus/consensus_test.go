package consensus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/engine/internal/adapter"
	"github.com/agentforge/engine/internal/runner"
	"github.com/agentforge/engine/internal/taxonomy"
	"github.com/agentforge/engine/internal/types"
)

// scriptAdapter runs a fixed shell script regardless of prompt, enough
// surface for Subprotocol.Run's invoke() calls in tests.
type scriptAdapter struct{ name, script string }

func (s scriptAdapter) Name() string                      { return s.name }
func (s scriptAdapter) Capabilities() adapter.Capabilities { return adapter.Capabilities{} }
func (s scriptAdapter) BuildArgv(adapter.BuildArgvInput) []string {
	return []string{"/bin/sh", "-c", s.script}
}
func (s scriptAdapter) PrepareRuntimeInvocation(argv []string, prompt string) ([]string, string) {
	return argv, ""
}
func (s scriptAdapter) NormalizeOutput(raw string) string { return raw }

func noBlockerAdapter(name string) scriptAdapter {
	return scriptAdapter{name: name, script: `echo '{"verdict": "NO_BLOCKER", "next_action": "pass"}'`}
}

func baseTask() *types.Task {
	return &types.Task{
		ID:                   "task-1",
		AuthorParticipant:    "author",
		ReviewerParticipants: []string{"reviewer1"},
	}
}

func TestRunAllReviewersUnavailableFailsGateAtPrecheck(t *testing.T) {
	s := New(runner.New(), adapter.NewRegistry(nil), nil)
	task := baseTask()

	outcome := s.Run(context.Background(), RunInput{
		Task:         task,
		WorkspaceDir: t.TempDir(),
		Seed:         "do the thing",
	})

	assert.Equal(t, DecisionFailedGate, outcome.Decision)
	assert.Equal(t, taxonomy.ReasonProposalPrecheckUnavailable, outcome.Reason)
}

func TestRunConsensusReachedWithSelfLoopModeAutoApproves(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	reg.Register(noBlockerAdapter("author"))
	reg.Register(noBlockerAdapter("reviewer1"))
	s := New(runner.New(), reg, nil)

	task := baseTask()
	task.SelfLoopMode = 1

	var events []string
	outcome := s.Run(context.Background(), RunInput{
		Task:         task,
		WorkspaceDir: t.TempDir(),
		Seed:         "do the thing",
		Emit:         func(eventType string, _ map[string]any) { events = append(events, eventType) },
	})

	require.Equal(t, DecisionAutoApproved, outcome.Decision)
	assert.Equal(t, taxonomy.ReasonAuthorApproved, outcome.Reason)
	assert.Contains(t, events, EventConsensusReached)
}

func TestRunConsensusReachedWithoutSelfLoopModeWaitsForManualConfirmation(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	reg.Register(noBlockerAdapter("author"))
	reg.Register(noBlockerAdapter("reviewer1"))
	s := New(runner.New(), reg, nil)

	task := baseTask()

	outcome := s.Run(context.Background(), RunInput{
		Task:         task,
		WorkspaceDir: t.TempDir(),
		Seed:         "do the thing",
	})

	assert.Equal(t, DecisionWaitingManual, outcome.Decision)
	assert.Equal(t, taxonomy.ReasonAuthorConfirmationRequired, outcome.Reason)
}

func TestRunReviewerBlockerWithoutIssuesIsContractViolationThenStalls(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	reg.Register(noBlockerAdapter("author"))
	reg.Register(scriptAdapter{name: "reviewer1", script: `echo '{"verdict": "BLOCKER", "next_action": "retry"}'`})
	s := New(runner.New(), reg, nil)

	task := baseTask()

	var violations int
	outcome := s.Run(context.Background(), RunInput{
		Task:         task,
		WorkspaceDir: t.TempDir(),
		Seed:         "do the thing",
		Emit: func(eventType string, _ map[string]any) {
			if eventType == EventReviewContractViolation {
				violations++
			}
		},
	})

	assert.Equal(t, DecisionWaitingManual, outcome.Decision)
	assert.Equal(t, taxonomy.ReasonProposalConsensusStalledInRound, outcome.Reason)
	assert.Equal(t, retryLimit, violations)
}
