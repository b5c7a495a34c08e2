package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/engine/internal/types"
)

func TestArtifactStoreInitTaskCreatesExpectedLayout(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	require.NoError(t, store.InitTask("task-1"))

	dir, err := store.taskDir("task-1")
	require.NoError(t, err)
	for _, sub := range []string{"", DiscussionDir, ArtifactsDir, filepath.Join(ArtifactsDir, RoundsDir)} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestArtifactStoreRejectsPathTraversalTaskID(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	_, err := store.taskDir("../escape")
	assert.ErrorIs(t, err, ErrArtifactOutsideRoot)
}

func TestArtifactStoreWriteStateRoundTrips(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	require.NoError(t, store.InitTask("task-1"))
	task := &types.Task{ID: "task-1", Title: "demo", Status: types.StatusQueued}
	require.NoError(t, store.WriteState(task))

	dir, _ := store.taskDir("task-1")
	data, err := os.ReadFile(filepath.Join(dir, StateFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"demo"`)
}

func TestArtifactStoreAppendEventIsAppendOnly(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	require.NoError(t, store.InitTask("task-1"))

	require.NoError(t, store.AppendEvent(&types.TaskEvent{TaskID: "task-1", Seq: 1, Type: "task_started"}))
	require.NoError(t, store.AppendEvent(&types.TaskEvent{TaskID: "task-1", Seq: 2, Type: "task_running"}))

	dir, _ := store.taskDir("task-1")
	data, err := os.ReadFile(filepath.Join(dir, EventsFile))
	require.NoError(t, err)
	lines := splitNonEmptyLines(string(data))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "task_started")
	assert.Contains(t, lines[1], "task_running")
}

func TestArtifactStoreReadEventsReturnsSeqOrder(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	require.NoError(t, store.InitTask("task-1"))
	require.NoError(t, store.AppendEvent(&types.TaskEvent{TaskID: "task-1", Seq: 1, Type: "task_started"}))
	require.NoError(t, store.AppendEvent(&types.TaskEvent{TaskID: "task-1", Seq: 2, Type: "task_running"}))

	events, err := store.ReadEvents("task-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "task_started", events[0].Type)
	assert.Equal(t, "task_running", events[1].Type)
}

func TestArtifactStoreReadEventsEmptyWhenNeverAppended(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	require.NoError(t, store.InitTask("task-1"))

	events, err := store.ReadEvents("task-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestArtifactStoreWriteReadArtifactRoundTrips(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	require.NoError(t, store.InitTask("task-1"))

	type payload struct {
		Foo string `json:"foo"`
	}
	require.NoError(t, store.WriteArtifact("task-1", "evidence_manifest", payload{Foo: "bar"}))

	var got payload
	require.NoError(t, store.ReadArtifact("task-1", "evidence_manifest", &got))
	assert.Equal(t, "bar", got.Foo)
}

func TestArtifactStoreWriteArtifactRejectsPathSeparatorInName(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	require.NoError(t, store.InitTask("task-1"))
	err := store.WriteArtifact("task-1", "../escape", map[string]string{})
	assert.ErrorIs(t, err, ErrArtifactOutsideRoot)
}

func TestArtifactStoreAppendDiscussionAccumulatesMessages(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	require.NoError(t, store.InitTask("task-1"))
	require.NoError(t, store.AppendDiscussion("task-1", "claude#author", 1, "first message"))
	require.NoError(t, store.AppendDiscussion("task-1", "claude#author", 1, "second message"))

	dir, _ := store.taskDir("task-1")
	data, err := os.ReadFile(filepath.Join(dir, DiscussionDir, "claude_author-round-001.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "first message")
	assert.Contains(t, string(data), "second message")
}

func TestArtifactStoreRemoveTaskDeletesSubtree(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	require.NoError(t, store.InitTask("task-1"))
	dir, _ := store.taskDir("task-1")

	require.NoError(t, store.RemoveTask("task-1"))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestArtifactStoreWriteFinalReportAndRoundReport(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	require.NoError(t, store.InitTask("task-1"))

	require.NoError(t, store.WriteFinalReport("task-1", types.StatusPassed, "passed"))
	dir, _ := store.taskDir("task-1")
	data, err := os.ReadFile(filepath.Join(dir, FinalReportFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "status=passed")

	snapDir, err := store.RoundSnapshotDir("task-1", 1)
	require.NoError(t, err)
	assert.DirExists(t, snapDir)

	require.NoError(t, store.WriteRoundReport("task-1", 1, "diff content", "summary content", map[string]any{"a": 1}))
	roundsDir := filepath.Join(dir, ArtifactsDir, RoundsDir)
	assert.FileExists(t, filepath.Join(roundsDir, "round-001.patch"))
	assert.FileExists(t, filepath.Join(roundsDir, "round-001.md"))
	assert.FileExists(t, filepath.Join(roundsDir, "round-001.json"))
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
