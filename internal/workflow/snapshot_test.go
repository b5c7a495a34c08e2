package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o700))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
}

func TestCaptureManifestAndDiffDetectsAddedModifiedRemoved(t *testing.T) {
	before := t.TempDir()
	writeTempFile(t, before, "keep.go", "package a\n")
	writeTempFile(t, before, "change.go", "package a\nfunc A() {}\n")
	writeTempFile(t, before, "gone.go", "package a\nfunc Gone() {}\n")

	beforeManifest, err := CaptureManifest(before, nil)
	require.NoError(t, err)

	after := t.TempDir()
	writeTempFile(t, after, "keep.go", "package a\n")
	writeTempFile(t, after, "change.go", "package a\nfunc A() { /* changed */ }\n")
	writeTempFile(t, after, "new.go", "package a\nfunc New() {}\n")

	afterManifest, err := CaptureManifest(after, nil)
	require.NoError(t, err)

	diff := DiffManifests(beforeManifest, afterManifest)
	require.Equal(t, []string{"new.go"}, diff.Added)
	require.Equal(t, []string{"change.go"}, diff.Modified)
	require.Equal(t, []string{"gone.go"}, diff.Removed)
}

func TestCaptureManifestRespectsExclusions(t *testing.T) {
	root := t.TempDir()
	writeTempFile(t, root, ".git/HEAD", "ref: refs/heads/main\n")
	writeTempFile(t, root, "main.go", "package a\n")

	manifest, err := CaptureManifest(root, defaultSnapshotExclusions)
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)
	require.Equal(t, "main.go", manifest.Entries[0].Path)
}

func TestUnifiedDiffRendersAddedAndRemovedLines(t *testing.T) {
	out := UnifiedDiff("foo.go", "line1\nline2\n", "line1\nline2-changed\n")
	require.Contains(t, out, "--- a/foo.go")
	require.Contains(t, out, "+++ b/foo.go")
	require.Contains(t, out, "-line2")
	require.Contains(t, out, "+line2-changed")
}

func TestCopyTreeCopiesNonExcludedFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTempFile(t, src, "a/b.go", "package b\n")
	writeTempFile(t, src, "node_modules/x.js", "ignored\n")

	require.NoError(t, CopyTree(src, dst, defaultSnapshotExclusions))

	data, err := os.ReadFile(filepath.Join(dst, "a", "b.go"))
	require.NoError(t, err)
	require.Equal(t, "package b\n", string(data))

	_, err = os.Stat(filepath.Join(dst, "node_modules", "x.js"))
	require.True(t, os.IsNotExist(err))
}
