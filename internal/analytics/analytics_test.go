package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/engine/internal/types"
)

type fakeRepo struct {
	tasks  []*types.Task
	events map[string][]*types.TaskEvent
}

func (f *fakeRepo) ListTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	if limit > 0 && limit < len(f.tasks) {
		return f.tasks[:limit], nil
	}
	return f.tasks, nil
}

func (f *fakeRepo) ListEvents(ctx context.Context, id string) ([]*types.TaskEvent, error) {
	return f.events[id], nil
}

func TestTaskSnapshotComputesPassRateAndStatusCounts(t *testing.T) {
	repo := &fakeRepo{
		tasks: []*types.Task{
			{ID: "t1", Status: types.StatusPassed, RoundsCompleted: 2},
			{ID: "t2", Status: types.StatusPassed, RoundsCompleted: 1},
			{ID: "t3", Status: types.StatusFailedGate, LastGateReason: "tests_failed", RoundsCompleted: 3},
			{ID: "t4", Status: types.StatusRunning},
		},
		events: map[string][]*types.TaskEvent{
			"t1": {{Type: "task_started"}, {Type: "gate_passed"}},
			"t2": {{Type: "task_started"}},
			"t3": {{Type: "task_started"}, {Type: "gate_failed"}},
		},
	}
	c := New(repo)
	snap, err := c.TaskSnapshot(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.TotalTasks)
	assert.Equal(t, 2, snap.ByStatus[types.StatusPassed])
	assert.Equal(t, 1, snap.ByStatus[types.StatusFailedGate])
	assert.Equal(t, 1, snap.ByStatus[types.StatusRunning])
	// Finished = 3 (2 passed + 1 failed_gate), running is not finished.
	assert.InDelta(t, 2.0/3.0, snap.PassRate, 0.0001)
	assert.InDelta(t, 2.0, snap.AverageRounds, 0.0001)
	assert.Equal(t, 3, snap.EventCounts["task_started"])
}

func TestTaskSnapshotBucketsReasonsByTaxonomy(t *testing.T) {
	repo := &fakeRepo{
		tasks: []*types.Task{
			{ID: "t1", Status: types.StatusFailedGate, LastGateReason: "tests_failed"},
			{ID: "t2", Status: types.StatusFailedSystem, LastGateReason: "workflow_error: boom"},
			{ID: "t3", Status: types.StatusCanceled, LastGateReason: "canceled"},
		},
		events: map[string][]*types.TaskEvent{},
	}
	c := New(repo)
	snap, err := c.TaskSnapshot(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.ByReasonBucket["workflow_gates"])
	assert.Equal(t, 1, snap.ByReasonBucket["system"])
	assert.Equal(t, 1, snap.ByReasonBucket["lifecycle"])
}

func TestTaskSnapshotEmptyRepoIsZeroValueSafe(t *testing.T) {
	repo := &fakeRepo{events: map[string][]*types.TaskEvent{}}
	c := New(repo)
	snap, err := c.TaskSnapshot(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.TotalTasks)
	assert.Equal(t, 0.0, snap.PassRate)
	assert.Equal(t, 0.0, snap.AverageRounds)
}

func TestTopEventTypesOrdersByFrequencyThenName(t *testing.T) {
	snap := Snapshot{EventCounts: map[string]int{
		"task_started": 5,
		"gate_passed":  2,
		"gate_failed":  2,
		"canceled":     1,
	}}
	top := TopEventTypes(snap, 3)
	assert.Equal(t, []string{"task_started", "gate_failed", "gate_passed"}, top)
}

func TestTopEventTypesClampsToAvailableCount(t *testing.T) {
	snap := Snapshot{EventCounts: map[string]int{"a": 1}}
	assert.Len(t, TopEventTypes(snap, 10), 1)
}
