package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/engine/internal/types"
)

func baseTask() *types.Task {
	return &types.Task{
		ID:          "task-abc123",
		Title:       "Fix retry backoff",
		Description: "Exponential backoff was missing jitter",
		ProjectPath: "/repo/service",
		MemoryMode:  types.MemoryBasic,
		Status:      types.StatusPassed,
	}
}

func TestRecordOutcomeSkipsWhenMemoryOff(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	task := baseTask()
	task.MemoryMode = types.MemoryOff

	require.NoError(t, store.RecordOutcome(context.Background(), task))

	_, ok := store.Recall("author", "retry backoff jitter")
	assert.False(t, ok)
}

func TestRecordOutcomePassedThenRecallFindsSemanticEntry(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	task := baseTask()

	require.NoError(t, store.RecordOutcome(context.Background(), task))

	recalled, ok := store.Recall("author", "retry backoff jitter")
	require.True(t, ok)
	assert.Contains(t, recalled, "Proven pattern")
	assert.Contains(t, recalled, "author")
}

func TestRecordOutcomeFailedGateWritesFailureEntry(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	task := baseTask()
	task.Status = types.StatusFailedGate
	task.LastGateReason = "tests_failed"

	require.NoError(t, store.RecordOutcome(context.Background(), task))

	recalled, ok := store.RecallMode("author", "tests_failed", types.MemoryBasic, 5)
	require.True(t, ok)
	assert.Contains(t, recalled, "Failure pattern")
}

func TestRecallModeOffAlwaysEmpty(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.RecordOutcome(context.Background(), baseTask()))

	_, ok := store.RecallMode("author", "retry backoff", types.MemoryOff, 5)
	assert.False(t, ok)
}

func TestRecallStrictModeRequiresOverlap(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.RecordOutcome(context.Background(), baseTask()))

	_, ok := store.RecallMode("author", "completely unrelated query about databases", types.MemoryStrict, 5)
	assert.False(t, ok)

	recalled, ok := store.RecallMode("author", "retry backoff jitter", types.MemoryStrict, 5)
	require.True(t, ok)
	assert.Contains(t, recalled, "author")
	_ = recalled
}

func TestRecallSkipsExpiredEntries(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	task := baseTask()
	task.Status = types.StatusCanceled

	require.NoError(t, store.RecordOutcome(context.Background(), task))

	entries, err := store.loadLocked(task.CreatedAt)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for i := range entries {
		past := entries[i].CreatedAt.AddDate(-1, 0, 0)
		entries[i].ExpiresAt = &past
	}
	require.NoError(t, store.saveLocked(entries))

	_, ok := store.Recall("author", "retry backoff jitter")
	assert.False(t, ok)
}

func TestRecordOutcomeNilTaskIsNoop(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.RecordOutcome(context.Background(), nil))
}

func TestClipTruncatesLongContent(t *testing.T) {
	long := make([]byte, maxContentChars+50)
	for i := range long {
		long[i] = 'a'
	}
	clipped := clip(string(long), maxContentChars)
	assert.LessOrEqual(t, len(clipped), maxContentChars)
	assert.Contains(t, clipped, "...")
}
