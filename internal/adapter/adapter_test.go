package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/engine/internal/types"
)

func TestExtractControlObjectFencedBlock(t *testing.T) {
	raw := "some chatter\n```json\n{\"verdict\": \"NO_BLOCKER\", \"next_action\": \"pass\"}\n```\ntrailing"
	obj, ok := ExtractControlObject(raw, false)
	require.True(t, ok)
	assert.Equal(t, types.VerdictNoBlocker, obj.Verdict)
	assert.Equal(t, types.NextActionPass, obj.NextAction)
}

func TestExtractControlObjectBareObject(t *testing.T) {
	raw := `before {"verdict": "BLOCKER", "next_action": "retry"} after`
	obj, ok := ExtractControlObject(raw, false)
	require.True(t, ok)
	assert.Equal(t, types.VerdictBlocker, obj.Verdict)
	assert.Equal(t, types.NextActionRetry, obj.NextAction)
}

func TestExtractControlObjectLastCandidateWins(t *testing.T) {
	raw := `{"verdict": "BLOCKER", "next_action": "retry"}
	later chatter
	{"verdict": "NO_BLOCKER", "next_action": "pass"}`
	obj, ok := ExtractControlObject(raw, false)
	require.True(t, ok)
	assert.Equal(t, types.VerdictNoBlocker, obj.Verdict)
}

func TestExtractControlObjectMissingRequiredKeysFails(t *testing.T) {
	raw := `{"issue": "something is wrong"}`
	_, ok := ExtractControlObject(raw, false)
	assert.False(t, ok)
}

func TestExtractControlObjectLegacyControlLines(t *testing.T) {
	raw := "VERDICT: BLOCKER\nNEXT_ACTION: retry\n"
	obj, ok := ExtractControlObject(raw, true)
	require.True(t, ok)
	assert.Equal(t, types.VerdictBlocker, obj.Verdict)
	assert.Equal(t, types.NextActionRetry, obj.NextAction)
}

func TestExtractControlObjectLegacyLinesIgnoredWhenNotAllowed(t *testing.T) {
	raw := "VERDICT: BLOCKER\nNEXT_ACTION: retry\n"
	_, ok := ExtractControlObject(raw, false)
	assert.False(t, ok)
}

func TestExtractControlObjectNoCandidatesFails(t *testing.T) {
	_, ok := ExtractControlObject("just plain text, nothing structured", false)
	assert.False(t, ok)
}

func TestClaudeAdapterBuildArgvAndStdin(t *testing.T) {
	a := NewClaudeAdapter("claude")
	argv := a.BuildArgv(BuildArgvInput{Model: "opus", ClaudeTeamAgents: true})
	assert.Equal(t, []string{"claude", "--print", "--model", "opus", "--agents"}, argv)

	finalArgv, stdin := a.PrepareRuntimeInvocation(argv, "do the thing")
	assert.Equal(t, argv, finalArgv)
	assert.Equal(t, "do the thing", stdin)
}

func TestCodexAdapterPassesPromptAsPositionalArg(t *testing.T) {
	a := NewCodexAdapter("codex")
	argv := a.BuildArgv(BuildArgvInput{CodexMultiAgents: true})
	finalArgv, stdin := a.PrepareRuntimeInvocation(argv, "do the thing")
	assert.Equal(t, "", stdin)
	assert.Equal(t, "do the thing", finalArgv[len(finalArgv)-1])
}

func TestStripNoiseLinesRemovesOnlyMatchingLines(t *testing.T) {
	a := NewClaudeAdapter("claude")
	out := a.NormalizeOutput("[claude] loading\nreal output line\nLoading model foo\n{\"verdict\":\"NO_BLOCKER\"}")
	assert.NotContains(t, out, "[claude]")
	assert.NotContains(t, out, "Loading model")
	assert.Contains(t, out, "real output line")
}

func TestRegistryResolveReturnsRegisteredAdapter(t *testing.T) {
	r := NewRegistry(map[string]string{"claude": "/usr/bin/claude"})
	a := r.Resolve("claude")
	assert.Equal(t, "claude", a.Name())
}

func TestRegistryResolveFallsBackToGenericForUnknownProvider(t *testing.T) {
	r := NewRegistry(nil)
	a := r.Resolve("mystery-llm")
	assert.Equal(t, "mystery-llm", a.Name())
}

func TestRegistryResolveHonorsCommandOverride(t *testing.T) {
	r := NewRegistry(map[string]string{"codex": "/opt/codex-custom"})
	a := r.Resolve("codex")
	argv := a.BuildArgv(BuildArgvInput{})
	assert.Equal(t, "/opt/codex-custom", argv[0])
}
