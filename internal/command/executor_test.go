package command

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunEmptyCommandIsNotConfigured(t *testing.T) {
	e := New()
	result := e.Run(context.Background(), "", t.TempDir(), 5*time.Second, nil)
	assert.False(t, result.OK)
	assert.Contains(t, result.Stderr, "command_not_configured")
	assert.Equal(t, 2, result.ReturnCode)
}

func TestRunBlankCommandIsNotConfigured(t *testing.T) {
	e := New()
	result := e.Run(context.Background(), "   ", t.TempDir(), 5*time.Second, nil)
	assert.False(t, result.OK)
	assert.Contains(t, result.Stderr, "command_not_configured")
}

func TestRunDisallowedCommandIsRejected(t *testing.T) {
	e := New()
	result := e.Run(context.Background(), "rm -rf /", t.TempDir(), 5*time.Second, nil)
	assert.False(t, result.OK)
	assert.Contains(t, result.Stderr, "command_disallowed")
	assert.Equal(t, 2, result.ReturnCode)
}

func TestRunDisallowedCommandRejectsNonPrefixedPytestLookalike(t *testing.T) {
	e := New()
	result := e.Run(context.Background(), "mypytest", t.TempDir(), 5*time.Second, nil)
	assert.False(t, result.OK)
	assert.Contains(t, result.Stderr, "command_disallowed")
}

func TestRunUnknownBinaryIsNotFound(t *testing.T) {
	e := New()
	result := e.Run(context.Background(), "pytest --this-flag-does-not-exist-zzz", t.TempDir(), 5*time.Second, nil)
	if _, err := exec.LookPath("pytest"); err == nil {
		t.Skip("pytest is installed on this machine; not-found path not exercised")
	}
	assert.Contains(t, result.Stderr, "command_not_found")
	assert.Equal(t, 127, result.ReturnCode)
}

func TestRunAllowsRuffCheckPrefix(t *testing.T) {
	e := New()
	result := e.Run(context.Background(), "ruff check .", t.TempDir(), 5*time.Second, nil)
	assert.NotContains(t, result.Stderr, "command_disallowed")
}

func TestRunAllowsPythonModulePytestPrefix(t *testing.T) {
	e := New()
	result := e.Run(context.Background(), "python -m pytest -q", t.TempDir(), 5*time.Second, nil)
	assert.NotContains(t, result.Stderr, "command_disallowed")
}

func TestRunAllowsPython3ModuleRuffPrefix(t *testing.T) {
	e := New()
	result := e.Run(context.Background(), "python3 -m ruff check .", t.TempDir(), 5*time.Second, nil)
	assert.NotContains(t, result.Stderr, "command_disallowed")
}

func TestResolveEnvBuildsDefaultEnvPrependingWorkspaceSrc(t *testing.T) {
	workspace := t.TempDir()
	env := resolveEnv(workspace, nil)

	found := false
	for _, kv := range env {
		if key, value, ok := strings.Cut(kv, "="); ok && key == "PYTHONPATH" {
			found = true
			assert.True(t, strings.HasPrefix(value, filepath.Join(workspace, "src")))
		}
	}
	assert.True(t, found, "resolveEnv must set PYTHONPATH when no override is supplied")
}

func TestResolveEnvStripsInstrumentationVars(t *testing.T) {
	t.Setenv("PYTEST_CURRENT_TEST", "some::test")
	env := resolveEnv(t.TempDir(), nil)
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		assert.NotEqual(t, "PYTEST_CURRENT_TEST", key)
	}
}

func TestResolveEnvHonorsExplicitOverride(t *testing.T) {
	override := []string{"FOO=bar"}
	assert.Equal(t, override, resolveEnv(t.TempDir(), override))
}
