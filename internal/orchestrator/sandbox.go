package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentforge/engine/internal/config"
	"github.com/agentforge/engine/internal/workflow"
)

// windowsReservedNames are device names that are unsafe to carry into a
// sandbox copy regardless of host OS, since the merge target may later be
// checked out on Windows.
var windowsReservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// secretSubstrings flags filenames that likely hold credentials, beyond the
// explicit .env*/*.pem/*.key patterns.
var secretSubstrings = []string{"secret", "token", "credential", "password"}

// excludedSandboxPaths reports whether relPath must be skipped when
// bootstrapping a sandbox: VCS/cache directories, virtualenvs, editor
// metadata, Windows-reserved device names, and secret-shaped filenames.
func excludedSandboxPaths(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	segments := strings.Split(relPath, "/")

	excludedDirs := map[string]bool{
		".git": true, ".hg": true, ".svn": true,
		"node_modules": true, "__pycache__": true, ".pytest_cache": true,
		".venv": true, "venv": true, "env": true,
		".idea": true, ".vscode": true, ".DS_Store": true,
	}
	for _, seg := range segments[:len(segments)-1] {
		if excludedDirs[seg] {
			return true
		}
	}

	base := segments[len(segments)-1]
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	if windowsReservedNames[stem] {
		return true
	}

	lowerBase := strings.ToLower(base)
	if strings.HasPrefix(lowerBase, ".env") {
		return true
	}
	if strings.HasSuffix(lowerBase, ".pem") || strings.HasSuffix(lowerBase, ".key") {
		return true
	}
	for _, s := range secretSubstrings {
		if strings.Contains(lowerBase, s) {
			return true
		}
	}
	return false
}

// ResolveSandboxBase returns the directory under which generated sandbox
// directories are created, honoring the config's env-overridable base and
// public-opt-in flag; default is a private per-user location.
func ResolveSandboxBase(cfg config.SandboxConfig) (string, error) {
	if cfg.BaseDir != "" {
		return cfg.BaseDir, nil
	}
	if cfg.UsePublicBase {
		return filepath.Join(os.TempDir(), "agentforge-sandboxes"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve sandbox base: %w", err)
	}
	return filepath.Join(home, ".agentforge", "sandboxes"), nil
}

// SandboxPathFor returns the deterministic sandbox directory for a task id
// under base.
func SandboxPathFor(base, taskID string) string {
	return filepath.Join(base, taskID)
}

// BootstrapSandbox copies projectPath into sandboxPath, excluding the
// patterns excludedSandboxPaths names.
func BootstrapSandbox(projectPath, sandboxPath string) error {
	if err := os.MkdirAll(sandboxPath, 0o700); err != nil {
		return fmt.Errorf("create sandbox dir: %w", err)
	}
	return workflow.CopyTree(projectPath, sandboxPath, excludedSandboxPaths)
}

// RemoveSandbox deletes a generated sandbox directory, best-effort.
func RemoveSandbox(sandboxPath string) error {
	return os.RemoveAll(sandboxPath)
}

// ComputeWorkspaceFingerprint hashes the normalized set of (path, shallow
// content signature) pairs beneath workspaceDir together with the sandbox
// config, so a later start_task can detect the workspace having moved or
// mutated underneath a queued task (spec.md §4.7's resume guard).
func ComputeWorkspaceFingerprint(workspaceDir string, cfg config.SandboxConfig) (string, error) {
	manifest, err := workflow.CaptureManifest(workspaceDir, excludedSandboxPaths)
	if err != nil {
		return "", fmt.Errorf("fingerprint workspace: %w", err)
	}

	paths := make([]string, 0, len(manifest.Entries))
	sigByPath := make(map[string]string, len(manifest.Entries))
	for _, e := range manifest.Entries {
		paths = append(paths, e.Path)
		sigByPath[e.Path] = fmt.Sprintf("%s:%d", e.SHA256, e.Size)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		fmt.Fprintf(h, "%s=%s\n", p, sigByPath[p])
	}
	fmt.Fprintf(h, "sandbox_base=%s;public=%t\n", cfg.BaseDir, cfg.UsePublicBase)
	return hex.EncodeToString(h.Sum(nil)), nil
}
