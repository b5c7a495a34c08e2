// Package gate implements the two in-process concurrency guards that
// protect races the storage layer's CAS transitions alone cannot express:
// start-slot deduplication and running-capacity admission.
package gate

import (
	"context"
	"sync"

	"github.com/agentforge/engine/internal/types"
)

// RunningTaskLister is the subset of storage.Repository the capacity gate
// needs: a way to read currently-running tasks.
type RunningTaskLister interface {
	ListTasks(ctx context.Context, limit int) ([]*types.Task, error)
}

// Gate owns the two in-process guard sets. A nil Gate is never valid;
// always construct via New.
type Gate struct {
	mu              sync.Mutex
	starting        map[string]bool
	runningInFlight map[string]bool

	repo                      RunningTaskLister
	maxConcurrentRunningTasks int
}

// New returns a Gate admitting at most maxConcurrentRunningTasks
// simultaneously-running tasks, consulting repo for tasks already running
// outside this process's in-memory set.
func New(repo RunningTaskLister, maxConcurrentRunningTasks int) *Gate {
	return &Gate{
		starting:                  make(map[string]bool),
		runningInFlight:           make(map[string]bool),
		repo:                      repo,
		maxConcurrentRunningTasks: maxConcurrentRunningTasks,
	}
}

// StartLease is a scoped resource over the start-slot set: call Release
// when the start attempt concludes, successfully or not.
type StartLease struct {
	gate     *Gate
	taskID   string
	released bool
}

// Release removes taskID from the start-slot set. Safe to call more than
// once.
func (l *StartLease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.gate.mu.Lock()
	delete(l.gate.starting, l.taskID)
	l.gate.mu.Unlock()
}

// TryAcquireStart attempts to register taskID as having an in-flight
// start. If a start is already in flight for this id, ok is false and the
// caller should treat the duplicate start idempotently (start_deduped);
// no lease is returned in that case.
func (g *Gate) TryAcquireStart(taskID string) (lease *StartLease, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.starting[taskID] {
		return nil, false
	}
	g.starting[taskID] = true
	return &StartLease{gate: g, taskID: taskID}, true
}

// CapacityLease is a scoped resource over the running-capacity set.
type CapacityLease struct {
	gate     *Gate
	taskID   string
	released bool
}

// Release removes taskID from the running-capacity set. Safe to call more
// than once.
func (l *CapacityLease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.gate.mu.Lock()
	delete(l.gate.runningInFlight, l.taskID)
	l.gate.mu.Unlock()
}

// TryAcquireCapacity atomically reads currently-running tasks from the
// repository (excluding taskID), unions with the in-memory running set
// (excluding taskID), and admits only if the union size is still below the
// configured limit. On rejection the caller should requeue the task and
// emit start_deferred.
func (g *Gate) TryAcquireCapacity(ctx context.Context, taskID string) (lease *CapacityLease, ok bool, err error) {
	tasks, err := g.repo.ListTasks(ctx, -1) // negative limit: no upper bound
	if err != nil {
		return nil, false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	running := make(map[string]bool)
	for _, t := range tasks {
		if t.Status == types.StatusRunning && t.ID != taskID {
			running[t.ID] = true
		}
	}
	for id := range g.runningInFlight {
		if id != taskID {
			running[id] = true
		}
	}

	if len(running) >= g.maxConcurrentRunningTasks {
		return nil, false, nil
	}

	g.runningInFlight[taskID] = true
	return &CapacityLease{gate: g, taskID: taskID}, true, nil
}
