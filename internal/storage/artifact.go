package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentforge/engine/internal/types"
)

const (
	// ThreadsDir is the top-level directory under an artifact root holding
	// one subdirectory per task.
	ThreadsDir = "threads"

	// StateFile mirrors the current task row.
	StateFile = "state.json"

	// EventsFile mirrors the repository's append-only event log.
	EventsFile = "events.jsonl"

	// DiscussionDir holds role+round-scoped markdown transcripts.
	DiscussionDir = "discussion"

	// ArtifactsDir holds named JSON artifacts (e.g. pending_proposal.json,
	// evidence_manifest.json).
	ArtifactsDir = "artifacts"

	// RoundsDir holds per-round workspace snapshots for round-artifact
	// capture, under artifacts/rounds/.
	RoundsDir = "rounds"

	// FinalReportFile records the terminal status and reason.
	FinalReportFile = "final_report.txt"
)

// ArtifactStore owns every file under its root's ThreadsDir. It never
// touches the workspace the agents operate on, and it never writes outside
// a single task's subtree.
type ArtifactStore struct {
	root string
	mu   sync.Mutex
}

// NewArtifactStore returns a store rooted at root (e.g. ".agentforge/ao").
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

// taskDir returns threads/<task_id> under the root, validating the id
// cannot escape the root via path traversal.
func (s *ArtifactStore) taskDir(taskID string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, "/\\") || taskID == "." || taskID == ".." {
		return "", fmt.Errorf("%w: invalid task id %q", ErrArtifactOutsideRoot, taskID)
	}
	dir := filepath.Join(s.root, ThreadsDir, taskID)
	rel, err := filepath.Rel(filepath.Join(s.root, ThreadsDir), dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", ErrArtifactOutsideRoot
	}
	return dir, nil
}

// InitTask creates the per-task directory structure.
func (s *ArtifactStore) InitTask(taskID string) error {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return err
	}
	for _, sub := range []string{"", DiscussionDir, ArtifactsDir, filepath.Join(ArtifactsDir, RoundsDir)} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return fmt.Errorf("init task dir: %w", err)
		}
	}
	return nil
}

// RemoveTask removes the task's entire subtree, best-effort.
func (s *ArtifactStore) RemoveTask(taskID string) error {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// WriteState atomically mirrors a task row to state.json (write-then-rename).
func (s *ArtifactStore) WriteState(task *types.Task) error {
	dir, err := s.taskDir(task.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return atomicWrite(filepath.Join(dir, StateFile), data)
}

// AppendEvent mirrors a repository event into the append-only events.jsonl
// file. It never mutates prior lines.
func (s *ArtifactStore) AppendEvent(event *types.TaskEvent) error {
	dir, err := s.taskDir(event.TaskID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return appendLine(filepath.Join(dir, EventsFile), data)
}

// ReadEvents reads every line of events.jsonl and decodes it as a
// TaskEvent, in file order (which is seq order, since AppendEvent never
// reorders or rewrites prior lines). Used as list_events' fallback source
// when the repository no longer knows the task (spec.md §6).
func (s *ArtifactStore) ReadEvents(taskID string) ([]*types.TaskEvent, error) {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, EventsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var events []*types.TaskEvent
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		var event types.TaskEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("decode event line: %w", err)
		}
		events = append(events, &event)
	}
	return events, nil
}

// WriteArtifact writes (or overwrites) a named JSON artifact under
// artifacts/<name>.json, atomically.
func (s *ArtifactStore) WriteArtifact(taskID, name string, v any) error {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return err
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: artifact name %q", ErrArtifactOutsideRoot, name)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", name, err)
	}
	path := filepath.Join(dir, ArtifactsDir, name+".json")
	return atomicWrite(path, data)
}

// ReadArtifact reads a named JSON artifact written by WriteArtifact.
func (s *ArtifactStore) ReadArtifact(taskID, name string, v any) error {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, ArtifactsDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// AppendDiscussion appends a message to discussion/<role>-round-<n>.md.
func (s *ArtifactStore) AppendDiscussion(taskID, role string, round int, message string) error {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return err
	}
	filename := fmt.Sprintf("%s-round-%03d.md", sanitizeFilenamePart(role), round)
	path := filepath.Join(dir, DiscussionDir, filename)
	line := fmt.Sprintf("\n---\n%s\n", sanitizeUTF8(message))
	return appendRaw(path, []byte(line))
}

// WriteFinalReport writes final_report.txt with the terminal status+reason.
func (s *ArtifactStore) WriteFinalReport(taskID string, status types.Status, reason string) error {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("status=%s\nreason=%s\n", status, reason)
	return atomicWrite(filepath.Join(dir, FinalReportFile), []byte(content))
}

// RoundSnapshotDir returns (and creates) the directory for round N's
// workspace snapshot: artifacts/rounds/round-NNN-snapshot.
func (s *ArtifactStore) RoundSnapshotDir(taskID string, round int) (string, error) {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ArtifactsDir, RoundsDir, fmt.Sprintf("round-%03d-snapshot", round))
	if err := os.MkdirAll(path, 0o700); err != nil {
		return "", err
	}
	return path, nil
}

// WriteRoundReport writes round-NNN.patch, round-NNN.md, and
// round-NNN.json under artifacts/rounds/, for the engine's round-artifact
// capture feature.
func (s *ArtifactStore) WriteRoundReport(taskID string, round int, patch, summary string, metadata any) error {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return err
	}
	roundsDir := filepath.Join(dir, ArtifactsDir, RoundsDir)
	base := fmt.Sprintf("round-%03d", round)

	metaData, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal round metadata: %w", err)
	}
	if err := atomicWrite(filepath.Join(roundsDir, base+".patch"), []byte(sanitizeUTF8(patch))); err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(roundsDir, base+".md"), []byte(sanitizeUTF8(summary))); err != nil {
		return err
	}
	return atomicWrite(filepath.Join(roundsDir, base+".json"), metaData)
}

func sanitizeFilenamePart(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "role"
	}
	return b.String()
}

func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}


// atomicWrite writes to a temp file in the same directory and renames it
// into place, guaranteeing readers never observe a partial write.
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
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}
	success = true
	return nil
}

// appendLine appends data followed by a newline to path, creating it if
// necessary, fsyncing before returning.
func appendLine(path string, data []byte) error {
	return appendRaw(path, append(append([]byte{}, data...), '\n'))
}

func appendRaw(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Sync()
}
