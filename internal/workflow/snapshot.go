package workflow

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentforge/engine/internal/worker"
)

// snapshotHashConcurrency bounds the worker pool used to hash a
// workspace's files in parallel. 0 defaults to runtime.NumCPU().
const snapshotHashConcurrency = 0

// FileManifestEntry describes one file at snapshot time.
type FileManifestEntry = worker.FileManifestEntry

// Manifest is the ordered, deterministic listing of a workspace tree at a
// point in time.
type Manifest struct {
	Entries []FileManifestEntry
}

// CaptureManifest walks root and hashes every regular file beneath it,
// using a worker pool to parallelize hashing across files. excluded
// reports whether a repo-relative path should be skipped (e.g. VCS
// metadata).
func CaptureManifest(root string, excluded func(relPath string) bool) (Manifest, error) {
	var relPaths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if excluded != nil && excluded(rel) {
			return nil
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("capture manifest: %w", err)
	}
	sort.Strings(relPaths)

	pool := worker.NewHashPool(snapshotHashConcurrency)
	results := pool.Hash(root, relPaths)

	entries := make([]FileManifestEntry, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			return Manifest{}, fmt.Errorf("hash %s: %w", relPaths[r.Index], r.Err)
		}
		entries = append(entries, r.Entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return Manifest{Entries: entries}, nil
}

// ManifestDiff summarizes the differences between a baseline and a later
// manifest.
type ManifestDiff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// DiffManifests compares before and after by path and content hash.
// Oversized or binary files are compared by size alone.
func DiffManifests(before, after Manifest) ManifestDiff {
	beforeByPath := make(map[string]FileManifestEntry, len(before.Entries))
	for _, e := range before.Entries {
		beforeByPath[e.Path] = e
	}
	afterByPath := make(map[string]FileManifestEntry, len(after.Entries))
	for _, e := range after.Entries {
		afterByPath[e.Path] = e
	}

	var diff ManifestDiff
	for path, a := range afterByPath {
		b, existed := beforeByPath[path]
		if !existed {
			diff.Added = append(diff.Added, path)
			continue
		}
		if entryChanged(b, a) {
			diff.Modified = append(diff.Modified, path)
		}
	}
	for path := range beforeByPath {
		if _, stillExists := afterByPath[path]; !stillExists {
			diff.Removed = append(diff.Removed, path)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Modified)
	return diff
}

func entryChanged(b, a FileManifestEntry) bool {
	if b.Oversized || a.Oversized || b.Binary || a.Binary {
		return b.Size != a.Size
	}
	return b.SHA256 != a.SHA256
}

// UnifiedDiff produces a minimal line-based unified diff between before
// and after content for a single text file, labeled with path.
func UnifiedDiff(path, before, after string) string {
	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)

	max := len(beforeLines)
	if len(afterLines) > max {
		max = len(afterLines)
	}
	for i := 0; i < max; i++ {
		var bl, al string
		var hasB, hasA bool
		if i < len(beforeLines) {
			bl, hasB = beforeLines[i], true
		}
		if i < len(afterLines) {
			al, hasA = afterLines[i], true
		}
		switch {
		case hasB && hasA && bl == al:
			continue
		case hasB && !hasA:
			fmt.Fprintf(&b, "-%s\n", bl)
		case !hasB && hasA:
			fmt.Fprintf(&b, "+%s\n", al)
		default:
			fmt.Fprintf(&b, "-%s\n+%s\n", bl, al)
		}
	}
	return b.String()
}

// CopyTree copies every non-excluded regular file from src to dst,
// preserving relative paths, for round-artifact baseline/snapshot capture.
func CopyTree(src, dst string, excluded func(relPath string) bool) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		if excluded != nil && excluded(relSlash) {
			return nil
		}
		destPath := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(destPath), 0o700); err != nil {
			return err
		}
		return copyFile(path, destPath)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// SummarizeRoundDiff renders a short human-readable summary of a round's
// manifest diff, suitable for round-N.md.
func SummarizeRoundDiff(round int, diff ManifestDiff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Round %d changes\n\n", round)
	fmt.Fprintf(&b, "- Added: %d\n", len(diff.Added))
	fmt.Fprintf(&b, "- Modified: %d\n", len(diff.Modified))
	fmt.Fprintf(&b, "- Removed: %d\n\n", len(diff.Removed))

	writeList := func(title string, paths []string) {
		if len(paths) == 0 {
			return
		}
		fmt.Fprintf(&b, "## %s\n", title)
		for _, p := range paths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteByte('\n')
	}
	writeList("Added", diff.Added)
	writeList("Modified", diff.Modified)
	writeList("Removed", diff.Removed)
	return b.String()
}
