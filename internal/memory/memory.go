// Package memory implements the memory.Store recall/persist hook
// (SPEC_FULL.md's Analytics/Memory resolution): a file-backed store that
// WorkflowEngine consults once per task, ahead of round 1's discussion, and
// that OrchestratorService writes to once a task reaches a terminal status.
//
// The store ships a deliberately simple, deterministic default: substring
// token-overlap scoring over a small JSON-backed entry list, not a learned
// or fuzzy ranking. Callers wanting smarter recall supply their own
// workflow.Recaller; this package only has to satisfy that interface and
// OutcomeRecorder, not be the best possible memory system.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/engine/internal/types"
)

// EntryType buckets a memory entry the way a reader would scan for it.
type EntryType string

const (
	EntrySession    EntryType = "session"
	EntrySemantic   EntryType = "semantic"
	EntryFailure    EntryType = "failure"
	EntryPreference EntryType = "preference"
)

const (
	entriesFile        = "entries.json"
	maxContentChars     = 420
	sessionTTL          = 72 * time.Hour
	failureTTL          = 45 * 24 * time.Hour
	strictMinConfidence = 0.65
	basicMinConfidence  = 0.30
	strictMinScore      = 0.40
)

// Entry is one recall-able memory record. Fields mirror the distilled
// shape of the original implementation's entry dict, trimmed to what this
// store's two callers (RecordOutcome, Recall) actually need.
type Entry struct {
	ID           string     `json:"memory_id"`
	Type         EntryType  `json:"memory_type"`
	ProjectPath  string     `json:"project_path,omitempty"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	Tags         []string   `json:"tags,omitempty"`
	SourceTaskID string     `json:"source_task_id,omitempty"`
	Confidence   float64    `json:"confidence"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Pinned       bool       `json:"pinned"`
}

func (e Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.Pinned && !e.ExpiresAt.After(now)
}

// Store is a file-backed recall/persist hook. It implements
// orchestrator.OutcomeRecorder and workflow.Recaller by structural typing —
// it imports neither package, avoiding a dependency cycle.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store persisting to root/entries.json, creating root if
// it does not already exist.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create memory root: %w", err)
	}
	return &Store{path: filepath.Join(root, entriesFile)}, nil
}

// RecordOutcome implements orchestrator.OutcomeRecorder. It is called once
// a task reaches a terminal status and appends a session entry plus, for
// passed/failed outcomes, a semantic or failure entry carrying the
// project-scoped takeaway.
func (s *Store) RecordOutcome(ctx context.Context, task *types.Task) error {
	if task == nil || task.MemoryMode == types.MemoryOff {
		return nil
	}
	now := time.Now().UTC()
	status := string(task.Status)
	reason := strings.TrimSpace(task.LastGateReason)
	if reason == "" {
		reason = "n/a"
	}

	entries := []Entry{{
		ID:           newID(),
		Type:         EntrySession,
		ProjectPath:  normalizeProjectKey(task.ProjectPath),
		Title:        fmt.Sprintf("%s [%s]", task.Title, status),
		Content:      clip(fmt.Sprintf("reason=%s; rounds=%d", reason, task.RoundsCompleted), maxContentChars),
		Tags:         []string{"session", status},
		SourceTaskID: task.ID,
		Confidence:   sessionConfidence(task.Status),
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    ptr(now.Add(sessionTTL)),
	}}

	switch task.Status {
	case types.StatusPassed:
		entries = append(entries, Entry{
			ID:           newID(),
			Type:         EntrySemantic,
			ProjectPath:  normalizeProjectKey(task.ProjectPath),
			Title:        fmt.Sprintf("Proven pattern: %s", task.Title),
			Content:      clip(fmt.Sprintf("Passed with reason=%s. %s", reason, task.Description), maxContentChars),
			Tags:         []string{"passed", "semantic", "verified"},
			SourceTaskID: task.ID,
			Confidence:   0.72,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	case types.StatusFailedGate, types.StatusFailedSystem, types.StatusCanceled:
		entries = append(entries, Entry{
			ID:           newID(),
			Type:         EntryFailure,
			ProjectPath:  normalizeProjectKey(task.ProjectPath),
			Title:        fmt.Sprintf("Failure pattern: %s", reason),
			Content:      clip(fmt.Sprintf("Task failed with status=%s, reason=%s.", status, reason), maxContentChars),
			Tags:         []string{"failure", status},
			SourceTaskID: task.ID,
			Confidence:   0.75,
			CreatedAt:    now,
			UpdatedAt:    now,
			ExpiresAt:    ptr(now.Add(failureTTL)),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.loadLocked(now)
	if err != nil {
		return err
	}
	existing = append(existing, entries...)
	return s.saveLocked(existing)
}

// Recall implements workflow.Recaller. It scores stored entries against
// query by token overlap plus a small recency/confidence blend, and
// returns the top few as a short context block, or ok=false when nothing
// clears the mode's confidence floor.
func (s *Store) Recall(ctx context.Context, participant, query string) (string, bool) {
	return s.RecallMode(participant, query, types.MemoryBasic, 5)
}

// RecallMode is the full form behind Recall, exposed so callers that know
// the task's configured MemoryMode (rather than always basic) can use it
// directly.
func (s *Store) RecallMode(participant, query string, mode types.MemoryMode, limit int) (string, bool) {
	if mode == types.MemoryOff {
		return "", false
	}
	if limit <= 0 {
		limit = 5
	}
	minConfidence := basicMinConfidence
	if mode == types.MemoryStrict {
		minConfidence = strictMinConfidence
	}

	s.mu.Lock()
	entries, err := s.loadLocked(time.Now().UTC())
	s.mu.Unlock()
	if err != nil || len(entries) == 0 {
		return "", false
	}

	queryTokens := tokenize(query)
	now := time.Now().UTC()
	type scored struct {
		entry Entry
		score float64
	}
	var candidates []scored
	for _, e := range entries {
		if e.Confidence < minConfidence {
			continue
		}
		blob := strings.ToLower(e.Title + "\n" + e.Content + "\n" + strings.Join(e.Tags, " "))
		textTokens := tokenize(blob)
		overlap := 0.0
		if len(queryTokens) > 0 {
			overlap = float64(len(intersect(queryTokens, textTokens))) / float64(len(queryTokens))
		} else if len(textTokens) > 0 {
			overlap = 0.15
		}
		if mode == types.MemoryStrict && overlap <= 0 {
			continue
		}

		ageDays := 999.0
		if !e.CreatedAt.IsZero() {
			ageDays = now.Sub(e.CreatedAt).Hours() / 24
			if ageDays < 0 {
				ageDays = 0
			}
		}
		recency := 1.0 - (ageDays / 120.0)
		if recency < 0 {
			recency = 0
		}

		score := overlap*0.6 + e.Confidence*0.25 + recency*0.15
		if mode == types.MemoryStrict && score < strictMinScore {
			continue
		}
		if score <= 0 {
			continue
		}
		candidates = append(candidates, scored{entry: e, score: score})
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memory recall for %s (%s):\n", participant, mode)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- [%s] %s (conf=%.2f, task=%s)\n", c.entry.Type, c.entry.Title, c.entry.Confidence, orNA(c.entry.SourceTaskID))
		if c.entry.Content != "" {
			fmt.Fprintf(&b, "  takeaway: %s\n", c.entry.Content)
		}
	}
	return strings.TrimSpace(b.String()), true
}

func (s *Store) loadLocked(now time.Time) ([]Entry, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memory entries: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var all []Entry
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode memory entries: %w", err)
	}
	out := all[:0]
	dirty := false
	for _, e := range all {
		if e.expired(now) {
			dirty = true
			continue
		}
		out = append(out, e)
	}
	if dirty {
		if err := s.saveLocked(out); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Store) saveLocked(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memory entries: %w", err)
	}
	return atomicWrite(s.path, data)
}

// atomicWrite writes via a temp file plus rename, matching
// storage.ArtifactStore's write idiom so a crash never leaves entries.json
// half-written.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write entries: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync entries: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename entries into place: %w", err)
	}
	success = true
	return nil
}

var tokenRE = regexp.MustCompile(`[A-Za-z0-9_./-]+`)

func tokenize(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range tokenRE.FindAllString(strings.ToLower(s), -1) {
		if len(tok) >= 2 {
			out[tok] = struct{}{}
		}
	}
	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func normalizeProjectKey(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimRight(p, "/")
	return strings.ToLower(p)
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max-3]) + "..."
}

func sessionConfidence(status types.Status) float64 {
	if status == types.StatusPassed {
		return 0.58
	}
	return 0.52
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

func ptr[T any](v T) *T { return &v }

func newID() string {
	return "mem-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
