// Package analytics implements the read-only Analytics/Stats component
// (SPEC_FULL.md's Analytics/Memory resolution): mechanical counts and
// ratios derived from the Repository's tasks and events, with no
// summarization or natural-language generation. A Summarizer seam lets a
// caller layer narrative reporting on top without this package ever
// producing prose itself.
package analytics

import (
	"context"
	"sort"
	"strings"

	"github.com/agentforge/engine/internal/taxonomy"
	"github.com/agentforge/engine/internal/types"
)

// Repository is the subset of storage.Repository Counters needs. Defined
// locally, same seam pattern as internal/orchestrator.Repository and
// internal/gate.RunningTaskLister, so tests can supply an in-memory fake.
type Repository interface {
	ListTasks(ctx context.Context, limit int) ([]*types.Task, error)
	ListEvents(ctx context.Context, id string) ([]*types.TaskEvent, error)
}

// Summarizer is the external seam for narrative reporting on top of a
// Snapshot. Counters never implements this itself — it only produces the
// numbers a Summarizer would consume.
type Summarizer interface {
	Summarize(ctx context.Context, snapshot Snapshot) (string, error)
}

// Snapshot is the full set of derived counters for a bounded task window.
type Snapshot struct {
	TotalTasks      int
	ByStatus        map[types.Status]int
	ByReasonBucket  map[taxonomy.Bucket]int
	PassRate        float64 // Passed / (Passed + FailedGate + FailedSystem + Canceled)
	AverageRounds   float64
	EventCounts     map[string]int // event type -> count, across sampled tasks
}

// Counters computes Snapshots directly from a Repository. It never
// summarizes, never ranks, never infers — every number is a plain count,
// sum, or ratio.
type Counters struct {
	Repo Repository
}

// New returns a Counters backed by repo.
func New(repo Repository) *Counters {
	return &Counters{Repo: repo}
}

// TaskSnapshot computes a Snapshot over the most recent limit tasks (per
// Repository.ListTasks' own recency ordering), including per-task event
// counts pulled via ListEvents.
func (c *Counters) TaskSnapshot(ctx context.Context, limit int) (Snapshot, error) {
	tasks, err := c.Repo.ListTasks(ctx, limit)
	if err != nil {
		return Snapshot{}, err
	}
	return c.snapshotOf(ctx, tasks)
}

func (c *Counters) snapshotOf(ctx context.Context, tasks []*types.Task) (Snapshot, error) {
	snap := Snapshot{
		ByStatus:       map[types.Status]int{},
		ByReasonBucket: map[taxonomy.Bucket]int{},
		EventCounts:    map[string]int{},
	}
	var roundsSum, roundsCount int
	var finished, passed int

	for _, t := range tasks {
		snap.TotalTasks++
		snap.ByStatus[t.Status]++

		reason := baseReason(t.LastGateReason)
		if reason != "" {
			snap.ByReasonBucket[taxonomy.BucketFor(taxonomy.Reason(reason))]++
		}

		if t.RoundsCompleted > 0 {
			roundsSum += t.RoundsCompleted
			roundsCount++
		}

		switch t.Status {
		case types.StatusPassed:
			finished++
			passed++
		case types.StatusFailedGate, types.StatusFailedSystem, types.StatusCanceled:
			finished++
		}

		events, err := c.Repo.ListEvents(ctx, t.ID)
		if err != nil {
			return Snapshot{}, err
		}
		for _, e := range events {
			snap.EventCounts[e.Type]++
		}
	}

	if finished > 0 {
		snap.PassRate = float64(passed) / float64(finished)
	}
	if roundsCount > 0 {
		snap.AverageRounds = float64(roundsSum) / float64(roundsCount)
	}
	return snap, nil
}

// TopEventTypes returns the N most frequent event types in snap, most
// frequent first, ties broken alphabetically for deterministic output.
func TopEventTypes(snap Snapshot, n int) []string {
	type kv struct {
		k string
		v int
	}
	kvs := make([]kv, 0, len(snap.EventCounts))
	for k, v := range snap.EventCounts {
		kvs = append(kvs, kv{k, v})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].v != kvs[j].v {
			return kvs[i].v > kvs[j].v
		}
		return kvs[i].k < kvs[j].k
	})
	if n > len(kvs) {
		n = len(kvs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = kvs[i].k
	}
	return out
}

// baseReason strips a ":"-delimited detail suffix (the system-bucket
// reasons carry one, e.g. "workflow_error: context canceled") so
// taxonomy.BucketFor sees only the stable prefix.
func baseReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if idx := strings.Index(reason, ":"); idx >= 0 {
		reason = strings.TrimSpace(reason[:idx])
	}
	return reason
}
