// Package command executes vetted test/lint commands under a timeout,
// refusing anything outside a fixed allowlist of pytest/ruff invocation
// shapes without ever invoking a shell.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/agentforge/engine/internal/runner"
)

// Result is the outcome of a CommandExecutor.Run call.
type Result struct {
	OK         bool
	ReturnCode int
	Stdout     string
	Stderr     string
}

// allowedPrefixes lists the accepted argv prefixes: configured
// interpreter/module forms of pytest and ruff, plus their bare-binary
// equivalents. A command's tokenized argv must start with one of these
// token sequences.
var allowedPrefixes = [][]string{
	{"pytest"},
	{"python", "-m", "pytest"},
	{"python3", "-m", "pytest"},
	{"ruff"},
	{"ruff", "check"},
	{"python", "-m", "ruff"},
	{"python3", "-m", "ruff"},
}

// Executor runs allowlisted commands in a workspace directory.
type Executor struct{}

// New returns an Executor.
func New() *Executor { return &Executor{} }

// Run tokenizes command (POSIX shell quoting, no shell invocation),
// validates it against the allowlist, and runs it with a timeout. The
// child environment is prepared the same way §4.3's Runner prepares one
// (workspace src prepended onto PYTHONPATH, instrumentation variables
// stripped) — spec.md §4.4 says test/lint environment prep mirrors §4.3.
// A non-nil env overrides that default outright, for callers (tests,
// future collaborators) that need to supply an exact environment.
func (e *Executor) Run(ctx context.Context, command, workspaceDir string, timeout time.Duration, env []string) Result {
	if strings.TrimSpace(command) == "" {
		return Result{OK: false, ReturnCode: 2, Stderr: "command_not_configured provider=shell"}
	}

	argv, err := Tokenize(command)
	if err != nil || len(argv) == 0 {
		return Result{OK: false, ReturnCode: 2, Stderr: "command_not_configured provider=shell"}
	}

	if !isAllowed(argv) {
		return Result{OK: false, ReturnCode: 2, Stderr: fmt.Sprintf("command_disallowed argv=%v", argv)}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workspaceDir
	cmd.Env = resolveEnv(workspaceDir, env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{
			OK:         false,
			ReturnCode: 124,
			Stdout:     stdout.String(),
			Stderr:     fmt.Sprintf("command_timeout provider=shell timeout_seconds=%v", timeout.Seconds()),
		}
	}

	if runErr != nil {
		if isNotFoundErr(runErr) {
			return Result{
				OK:         false,
				ReturnCode: 127,
				Stdout:     stdout.String(),
				Stderr:     "command_not_found provider=shell",
			}
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			return Result{OK: code == 0, ReturnCode: code, Stdout: stdout.String(), Stderr: stderr.String()}
		}
		return Result{OK: false, ReturnCode: -1, Stdout: stdout.String(), Stderr: runErr.Error()}
	}

	return Result{OK: true, ReturnCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}
}

// resolveEnv returns env unchanged when the caller supplied one, otherwise
// builds the default §4.3-style child environment for workspaceDir.
func resolveEnv(workspaceDir string, env []string) []string {
	if env != nil {
		return env
	}
	return runner.BuildChildEnv(workspaceDir, nil)
}

func isAllowed(argv []string) bool {
	for _, prefix := range allowedPrefixes {
		if hasPrefix(argv, prefix) {
			return true
		}
	}
	return false
}

func hasPrefix(argv, prefix []string) bool {
	if len(argv) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if argv[i] != p {
			return false
		}
	}
	return true
}

func isNotFoundErr(err error) bool {
	_, ok := err.(*exec.Error)
	return ok
}
