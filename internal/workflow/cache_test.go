package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromptCacheTrackerFirstCallIsNotEligible(t *testing.T) {
	tracker := NewPromptCacheTracker()
	sig := ComputePromptSignature("claude-opus", "", nil, "Task: do the thing\n")
	result := tracker.Probe("author", "discussion", sig)

	assert.False(t, result.ReuseEligible)
	assert.False(t, result.Reused)
	assert.Empty(t, result.BreakReason)
}

func TestPromptCacheTrackerReusesIdenticalSignature(t *testing.T) {
	tracker := NewPromptCacheTracker()
	sig := ComputePromptSignature("claude-opus", "", nil, "Task: do the thing\n")
	tracker.Probe("author", "discussion", sig)

	result := tracker.Probe("author", "discussion", sig)
	assert.True(t, result.ReuseEligible)
	assert.True(t, result.Reused)
	assert.Empty(t, result.BreakReason)
}

func TestPromptCacheTrackerBreaksOnModelChange(t *testing.T) {
	tracker := NewPromptCacheTracker()
	first := ComputePromptSignature("claude-opus", "", nil, "Task: do the thing\n")
	tracker.Probe("author", "discussion", first)

	second := ComputePromptSignature("claude-sonnet", "", nil, "Task: do the thing\n")
	result := tracker.Probe("author", "discussion", second)

	assert.False(t, result.Reused)
	assert.Equal(t, "model_changed", result.BreakReason)
}

func TestPromptCacheTrackerBreaksOnToolsetChange(t *testing.T) {
	tracker := NewPromptCacheTracker()
	first := ComputePromptSignature("claude-opus", "", map[string]bool{"claude_team_agents": false}, "Task: do the thing\n")
	tracker.Probe("author", "discussion", first)

	second := ComputePromptSignature("claude-opus", "", map[string]bool{"claude_team_agents": true}, "Task: do the thing\n")
	result := tracker.Probe("author", "discussion", second)

	assert.Equal(t, "toolset_changed", result.BreakReason)
}

func TestPromptCacheTrackerReusesWhenOnlyDynamicSuffixChanges(t *testing.T) {
	tracker := NewPromptCacheTracker()
	first := ComputePromptSignature("claude-opus", "", nil, "Task: do the thing\n\nContext: round 1 discussion\n")
	tracker.Probe("author", "implementation", first)

	second := ComputePromptSignature("claude-opus", "", nil, "Task: do the thing\n\nContext: round 2 discussion\n")
	result := tracker.Probe("author", "implementation", second)

	// Both share the same static prefix (everything before "Context:"), so
	// changing only the dynamic suffix must not break the cache.
	assert.True(t, result.Reused)
}

func TestPromptCacheTrackerKeysByParticipantAndStage(t *testing.T) {
	tracker := NewPromptCacheTracker()
	sig := ComputePromptSignature("claude-opus", "", nil, "Task: do the thing\n")
	tracker.Probe("author", "discussion", sig)

	result := tracker.Probe("reviewer", "discussion", sig)
	assert.False(t, result.ReuseEligible, "different participant key must start fresh")
}
