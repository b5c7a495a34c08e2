package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/engine/internal/types"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestCreateTaskAssignsIDAndQueuedStatus(t *testing.T) {
	repo := newTestRepo(t)
	task := &types.Task{Title: "demo"}
	created, err := repo.CreateTask(context.Background(), task)
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, types.StatusQueued, created.Status)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestGetTaskNotFoundReturnsSentinel(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestUpdateStatusIfMismatchReturnsCASError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	created, err := repo.CreateTask(ctx, &types.Task{Title: "demo"})
	require.NoError(t, err)

	_, err = repo.UpdateStatusIf(ctx, created.ID, types.StatusRunning, types.StatusPassed, "passed", nil, nil)
	assert.ErrorIs(t, err, ErrCASMismatch)
}

func TestUpdateStatusIfMatchAppliesTransition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	created, err := repo.CreateTask(ctx, &types.Task{Title: "demo"})
	require.NoError(t, err)

	rounds := 2
	updated, err := repo.UpdateStatusIf(ctx, created.ID, types.StatusQueued, types.StatusRunning, "", &rounds, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, updated.Status)
	assert.Equal(t, 2, updated.RoundsCompleted)
}

func TestUpdateStatusIfLeavesCancelRequestedUntouchedWhenNil(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	created, err := repo.CreateTask(ctx, &types.Task{Title: "demo"})
	require.NoError(t, err)

	_, err = repo.SetCancelRequested(ctx, created.ID, true)
	require.NoError(t, err)

	updated, err := repo.UpdateStatusIf(ctx, created.ID, types.StatusQueued, types.StatusRunning, "", nil, nil)
	require.NoError(t, err)
	assert.True(t, updated.CancelRequested)
}

func TestListTasksReturnsEveryCreatedTask(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	first, err := repo.CreateTask(ctx, &types.Task{Title: "first"})
	require.NoError(t, err)
	second, err := repo.CreateTask(ctx, &types.Task{Title: "second"})
	require.NoError(t, err)

	tasks, err := repo.ListTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	ids := map[string]bool{first.ID: true, second.ID: true}
	assert.True(t, ids[tasks[0].ID])
	assert.True(t, ids[tasks[1].ID])
}

func TestAppendEventAllocatesIncreasingSeq(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	created, err := repo.CreateTask(ctx, &types.Task{Title: "demo"})
	require.NoError(t, err)

	e1, err := repo.AppendEvent(ctx, created.ID, "task_started", nil, 0)
	require.NoError(t, err)
	e2, err := repo.AppendEvent(ctx, created.ID, "task_running", nil, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), e1.Seq)
	assert.Equal(t, int64(2), e2.Seq)
}

func TestListEventsOrderedBySeq(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	created, err := repo.CreateTask(ctx, &types.Task{Title: "demo"})
	require.NoError(t, err)

	_, err = repo.AppendEvent(ctx, created.ID, "task_started", map[string]any{"x": 1.0}, 0)
	require.NoError(t, err)
	_, err = repo.AppendEvent(ctx, created.ID, "task_running", nil, 1)
	require.NoError(t, err)

	events, err := repo.ListEvents(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "task_started", events[0].Type)
	assert.Equal(t, "task_running", events[1].Type)
	assert.Equal(t, 1.0, events[0].Payload["x"])
}

func TestDeleteTasksRemovesTaskAndEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	created, err := repo.CreateTask(ctx, &types.Task{Title: "demo"})
	require.NoError(t, err)
	_, err = repo.AppendEvent(ctx, created.ID, "task_started", nil, 0)
	require.NoError(t, err)

	count, err := repo.DeleteTasks(ctx, []string{created.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = repo.GetTask(ctx, created.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	events, err := repo.ListEvents(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestIsCancelRequestedReflectsSetCancelRequested(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	created, err := repo.CreateTask(ctx, &types.Task{Title: "demo"})
	require.NoError(t, err)

	ok, err := repo.IsCancelRequested(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.SetCancelRequested(ctx, created.ID, true)
	require.NoError(t, err)

	ok, err = repo.IsCancelRequested(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}
