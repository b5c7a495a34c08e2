package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentforge/engine/internal/types"
)

// Repository persists tasks and their append-only events. It is the sole
// owner of task and event rows; every write goes through a CAS-friendly
// primitive so concurrent callers never silently clobber each other.
type Repository struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS task_events (
	task_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	type TEXT NOT NULL,
	round INTEGER NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(task_id, seq)
);
CREATE TABLE IF NOT EXISTS task_event_counters (
	task_id TEXT PRIMARY KEY,
	next_seq INTEGER NOT NULL
);
`

// OpenSQLite opens (creating if necessary) a WAL-mode SQLite database at
// path and applies the schema. WAL + a generous busy_timeout mirrors the
// original implementation's storage posture, letting short writer bursts
// queue instead of failing outright.
func OpenSQLite(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateTask assigns a fresh id (if unset) and persists it as queued.
func (r *Repository) CreateTask(ctx context.Context, task *types.Task) (*types.Task, error) {
	if task.ID == "" {
		task.ID = types.NewTaskID()
	}
	now := time.Now().UTC()
	task.Status = types.StatusQueued
	task.RoundsCompleted = 0
	task.CancelRequested = false
	task.CreatedAt = now
	task.UpdatedAt = now

	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, data, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		task.ID, string(data), string(task.Status), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetTask returns the task row, or ErrTaskNotFound.
func (r *Repository) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	var task types.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// ListTasks returns up to limit tasks ordered by created_at descending.
func (r *Repository) ListTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT data FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var task types.Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			return nil, err
		}
		out = append(out, &task)
	}
	return out, rows.Err()
}

// UpdateStatus unconditionally updates status/reason/rounds and refreshes
// updated_at.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status types.Status, reason string, rounds *int) (*types.Task, error) {
	return r.updateStatus(ctx, id, nil, status, reason, rounds, nil)
}

// UpdateStatusIf is the primary race-free primitive: it applies the update
// only if the task's current status equals expected, returning
// (nil, ErrCASMismatch) otherwise.
func (r *Repository) UpdateStatusIf(ctx context.Context, id string, expected, newStatus types.Status, reason string, rounds *int, cancelRequested *bool) (*types.Task, error) {
	return r.updateStatus(ctx, id, &expected, newStatus, reason, rounds, cancelRequested)
}

func (r *Repository) updateStatus(ctx context.Context, id string, expected *types.Status, newStatus types.Status, reason string, rounds *int, cancelRequested *bool) (*types.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var data string
	if err := tx.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = ?`, id).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("query task: %w", err)
	}
	var task types.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}

	if expected != nil && task.Status != *expected {
		return nil, ErrCASMismatch
	}

	task.Status = newStatus
	task.LastGateReason = reason
	if rounds != nil {
		task.RoundsCompleted = *rounds
	}
	if cancelRequested != nil {
		task.CancelRequested = *cancelRequested
	}
	task.UpdatedAt = time.Now().UTC()

	newData, err := json.Marshal(&task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET data = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(newData), string(task.Status), task.UpdatedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &task, nil
}

// SetCancelRequested sets the cancel flag unconditionally.
func (r *Repository) SetCancelRequested(ctx context.Context, id string, cancel bool) (*types.Task, error) {
	task, err := r.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.updateStatus(ctx, id, nil, task.Status, task.LastGateReason, nil, &cancel)
}

// IsCancelRequested reports the cancel flag's current value.
func (r *Repository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	task, err := r.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	return task.CancelRequested, nil
}

// retry tuning for AppendEvent's seq-allocation contention: ~8 attempts
// capped at ~200ms total wall time, per spec §4.1.
const (
	appendEventMaxAttempts  = 8
	appendEventBackoffBase  = 4 * time.Millisecond
	appendEventBackoffCap   = 40 * time.Millisecond
)

// AppendEvent reserves the next seq for task id and inserts the event. It
// retries on transient storage-lock contention with bounded exponential
// backoff before surfacing ErrSeqConflict.
func (r *Repository) AppendEvent(ctx context.Context, id, eventType string, payload map[string]any, round int) (*types.TaskEvent, error) {
	var lastErr error
	for attempt := 0; attempt < appendEventMaxAttempts; attempt++ {
		event, err := r.tryAppendEvent(ctx, id, eventType, payload, round)
		if err == nil {
			return event, nil
		}
		lastErr = err
		if !isRetryableLockErr(err) {
			return nil, err
		}
		sleepWithJitterBackoff(attempt)
	}
	return nil, fmt.Errorf("%w: %v", ErrSeqConflict, lastErr)
}

func (r *Repository) tryAppendEvent(ctx context.Context, id, eventType string, payload map[string]any, round int) (*types.TaskEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx, `SELECT next_seq FROM task_event_counters WHERE task_id = ?`, id).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var maxSeq sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM task_events WHERE task_id = ?`, id).Scan(&maxSeq); err != nil {
			return nil, err
		}
		next = 1
		if maxSeq.Valid {
			next = maxSeq.Int64 + 1
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_event_counters (task_id, next_seq) VALUES (?, ?)`, id, next+1); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE task_event_counters SET next_seq = ? WHERE task_id = ?`, next+1, id); err != nil {
			return nil, err
		}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_events (task_id, seq, type, round, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, next, eventType, round, string(payloadJSON), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &types.TaskEvent{
		TaskID:    id,
		Seq:       next,
		Type:      eventType,
		Round:     round,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

// ListEvents returns every event for a task, ordered by seq ascending.
func (r *Repository) ListEvents(ctx context.Context, id string) ([]*types.TaskEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, type, round, payload, created_at FROM task_events WHERE task_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.TaskEvent
	for rows.Next() {
		var (
			seq       int64
			typ       string
			round     int
			payload   string
			createdAt string
		)
		if err := rows.Scan(&seq, &typ, &round, &payload, &createdAt); err != nil {
			return nil, err
		}
		var p map[string]any
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, err
		}
		ts, _ := time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &types.TaskEvent{TaskID: id, Seq: seq, Type: typ, Round: round, Payload: p, CreatedAt: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, rows.Err()
}

// DeleteTasks purges tasks and all their events/counters.
func (r *Repository) DeleteTasks(ctx context.Context, ids []string) (int, error) {
	count := 0
	for _, id := range ids {
		res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return count, err
		}
		if _, err := r.db.ExecContext(ctx, `DELETE FROM task_events WHERE task_id = ?`, id); err != nil {
			return count, err
		}
		if _, err := r.db.ExecContext(ctx, `DELETE FROM task_event_counters WHERE task_id = ?`, id); err != nil {
			return count, err
		}
		n, _ := res.RowsAffected()
		count += int(n)
	}
	return count, nil
}

func isRetryableLockErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"locked", "busy"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// sleepWithJitterBackoff implements the ~8-attempt/~200ms-total retry
// budget: base*2^attempt capped, plus jitter, so eight attempts never
// exceed roughly 200ms in aggregate.
func sleepWithJitterBackoff(attempt int) {
	backoff := appendEventBackoffBase << attempt
	if backoff > appendEventBackoffCap {
		backoff = appendEventBackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(backoff/2 + 1)))
	time.Sleep(backoff/2 + jitter)
}
