// Package runner executes a ProviderAdapter invocation as a child process,
// sharing a timeout budget across retries and streaming output to an
// optional callback. It is the direct Go counterpart of the original
// ParticipantRunner: constants and the retry/backoff algorithm are carried
// over unchanged.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentforge/engine/internal/adapter"
	"github.com/agentforge/engine/internal/types"
)

// minAttemptTimeout is the floor below which another retry attempt is not
// worth making (original: _MIN_ATTEMPT_TIMEOUT_SECONDS = 0.05).
const minAttemptTimeout = 50 * time.Millisecond

// maxBackoff caps the jittered inter-attempt sleep.
const maxBackoff = 750 * time.Millisecond

// promptClipLimit is the max prompt length on a retry attempt.
const promptClipLimit = 1200

const truncationMarker = "\n…[truncated]"

// limitPatterns are matched case-insensitively against combined
// stdout+stderr to detect a provider capacity/limit condition regardless of
// exit code.
var limitPatterns = []string{
	"hit your limit",
	"rate limit",
	"quota exceeded",
	"no capacity available",
}

// moduleSearchPathEnvVar is the environment variable onto which the
// workspace's src directory is prepended, mirroring the original runner's
// PYTHONPATH handling for Python-based agent CLIs.
const moduleSearchPathEnvVar = "PYTHONPATH"

// instrumentationEnvVars are stripped from the child environment so test
// coverage/telemetry harnesses around the parent process do not leak into
// agent subprocess invocations.
var instrumentationEnvVars = []string{
	"COVERAGE_PROCESS_START",
	"PYTEST_CURRENT_TEST",
	"PYTHONTRACEMALLOC",
}

// RunResult mirrors AdapterResult from spec.md §4.3.
type RunResult struct {
	Output          string
	Verdict         types.Verdict
	NextAction      types.NextAction
	ReturnCode      int
	DurationSeconds float64

	// RuntimeError is non-empty for a runtime-error result
	// (provider_limit, command_not_found, command_failed, command_timeout);
	// Output still carries whatever text was captured.
	RuntimeError string
}

// Options configures a single Run invocation.
type Options struct {
	Adapter          adapter.Adapter
	Argv             []string // base argv before PrepareRuntimeInvocation
	Prompt           string
	WorkspaceDir     string
	TimeoutSeconds   float64
	TimeoutRetries   int // default 1 if zero
	OnStream         func(stream string, chunk string)
	DryRun           bool
	ControlSchemaCompat bool
	Env              []string // additional environment entries, appended
}

// Runner executes ProviderAdapter invocations as child processes.
type Runner struct {
	// Logger receives one entry per terminal outcome (command_not_found,
	// command_timeout, provider_limit, command_failed, or success). Nil
	// falls back to a text handler on stderr.
	Logger *slog.Logger
}

// New returns a Runner. It carries no state besides its logger;
// all invocation configuration is per-call.
func New() *Runner { return &Runner{} }

func (r *Runner) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// Run executes opts, resolving the executable, sharing the timeout budget
// across attempts, and normalizing the result per spec.md §4.3.
func (r *Runner) Run(ctx context.Context, opts Options) RunResult {
	if opts.DryRun {
		return RunResult{
			Output:          "",
			Verdict:         types.VerdictNoBlocker,
			NextAction:      types.NextActionPass,
			ReturnCode:      0,
			DurationSeconds: 0,
		}
	}

	if len(opts.Argv) == 0 {
		r.log().Error("runner terminal outcome", "reason", "command_not_configured")
		return runtimeErrorResult("command_not_configured")
	}
	resolvedPath, err := exec.LookPath(opts.Argv[0])
	if err != nil {
		r.log().Error("runner terminal outcome", "reason", "command_not_found", "provider", opts.Adapter.Name(), "command", opts.Argv[0])
		return runtimeErrorResult(fmt.Sprintf("command_not_found provider=%s command=%s", opts.Adapter.Name(), opts.Argv[0]))
	}

	retries := opts.TimeoutRetries
	if retries <= 0 {
		retries = 1
	}
	attemptsTotal := retries + 1
	totalBudget := time.Duration(opts.TimeoutSeconds * float64(time.Second))
	remaining := totalBudget

	prompt := opts.Prompt
	var lastOutput string
	started := time.Now()

	for attempt := 0; attempt < attemptsTotal; attempt++ {
		attemptsLeft := attemptsTotal - attempt
		attemptTimeout := remaining / time.Duration(attemptsLeft)
		if attemptTimeout < minAttemptTimeout {
			attemptTimeout = minAttemptTimeout
		}

		argv := append([]string{}, opts.Argv...)
		argv[0] = resolvedPath
		finalArgv, stdin := opts.Adapter.PrepareRuntimeInvocation(argv, prompt)

		attemptStart := time.Now()
		output, exitCode, runErr := r.runOnce(ctx, finalArgv, stdin, opts.WorkspaceDir, attemptTimeout, opts.Env, opts.OnStream)
		elapsed := time.Since(attemptStart)
		lastOutput = output

		remaining -= elapsed
		if remaining < 0 {
			remaining = 0
		}

		if runErr == errTimeout {
			if attempt == attemptsTotal-1 {
				r.log().Error("runner terminal outcome", "reason", "command_timeout", "provider", opts.Adapter.Name(), "command", opts.Argv[0], "attempt", attempt)
				return RunResult{
					Output:          output,
					ReturnCode:      -1,
					RuntimeError:    fmt.Sprintf("command_timeout provider=%s command=%s", opts.Adapter.Name(), opts.Argv[0]),
					DurationSeconds: time.Since(started).Seconds(),
				}
			}
			// Projected remaining budget for the next attempt must clear the
			// floor, or we stop retrying now rather than burn the backoff.
			nextAttemptsLeft := attemptsTotal - attempt - 1
			if remaining/time.Duration(nextAttemptsLeft) < minAttemptTimeout {
				r.log().Error("runner terminal outcome", "reason", "command_timeout", "provider", opts.Adapter.Name(), "command", opts.Argv[0], "attempt", attempt)
				return RunResult{
					Output:          output,
					ReturnCode:      -1,
					RuntimeError:    fmt.Sprintf("command_timeout provider=%s command=%s", opts.Adapter.Name(), opts.Argv[0]),
					DurationSeconds: time.Since(started).Seconds(),
				}
			}
			sleepJitteredBackoff(attempt, remaining)
			prompt = clipPrompt(opts.Prompt)
			continue
		}

		normalized := opts.Adapter.NormalizeOutput(output)

		if hasLimitPattern(normalized) {
			r.log().Warn("runner terminal outcome", "reason", "provider_limit", "provider", opts.Adapter.Name(), "command", opts.Argv[0])
			return RunResult{
				Output:          normalized,
				ReturnCode:      exitCode,
				RuntimeError:    fmt.Sprintf("provider_limit provider=%s command=%s", opts.Adapter.Name(), opts.Argv[0]),
				DurationSeconds: time.Since(started).Seconds(),
			}
		}

		if exitCode != 0 {
			r.log().Error("runner terminal outcome", "reason", "command_failed", "provider", opts.Adapter.Name(), "returncode", exitCode)
			return RunResult{
				Output:          normalized,
				ReturnCode:      exitCode,
				RuntimeError:    fmt.Sprintf("command_failed provider=%s returncode=%d", opts.Adapter.Name(), exitCode),
				DurationSeconds: time.Since(started).Seconds(),
			}
		}

		verdict, next := types.VerdictUnknown, types.NextActionStop
		if ctrl, ok := adapter.ExtractControlObject(normalized, opts.ControlSchemaCompat); ok {
			verdict, next = ctrl.Verdict, ctrl.NextAction
		}
		r.log().Info("runner terminal outcome", "reason", "success", "provider", opts.Adapter.Name(), "verdict", string(verdict), "next_action", string(next))
		return RunResult{
			Output:          normalized,
			Verdict:         verdict,
			NextAction:      next,
			ReturnCode:      exitCode,
			DurationSeconds: time.Since(started).Seconds(),
		}
	}

	// Unreachable in practice (the loop always returns), but keep a
	// deterministic fallback rather than returning a zero RunResult.
	r.log().Error("runner terminal outcome", "reason", "command_timeout", "provider", opts.Adapter.Name(), "command", opts.Argv[0])
	return RunResult{
		Output:          lastOutput,
		ReturnCode:      -1,
		RuntimeError:    fmt.Sprintf("command_timeout provider=%s command=%s", opts.Adapter.Name(), opts.Argv[0]),
		DurationSeconds: time.Since(started).Seconds(),
	}
}

var errTimeout = fmt.Errorf("attempt exceeded its timeout budget")

// runOnce executes a single attempt, returning combined stdout+stderr,
// exit code, and errTimeout if the attempt budget was exceeded.
func (r *Runner) runOnce(ctx context.Context, argv []string, stdin, workspaceDir string, timeout time.Duration, extraEnv []string, onStream func(string, string)) (string, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, argv[0], argv[1:]...)
	cmd.Dir = workspaceDir
	cmd.Env = BuildChildEnv(workspaceDir, extraEnv)

	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var combined strings.Builder
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", -1, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", -1, err
	}

	if err := cmd.Start(); err != nil {
		return "", -1, err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	pump := func(name string, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			combined.WriteString(line)
			combined.WriteByte('\n')
			mu.Unlock()
			if onStream != nil {
				onStream(name, line)
			}
		}
	}
	wg.Add(2)
	go pump("stdout", stdoutPipe)
	go pump("stderr", stderrPipe)
	wg.Wait()

	waitErr := cmd.Wait()
	if attemptCtx.Err() == context.DeadlineExceeded {
		return combined.String(), -1, errTimeout
	}
	if waitErr == nil {
		return combined.String(), 0, nil
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return combined.String(), exitErr.ExitCode(), nil
	}
	return combined.String(), -1, waitErr
}

func runtimeErrorResult(msg string) RunResult {
	return RunResult{RuntimeError: msg, ReturnCode: -1}
}

func hasLimitPattern(output string) bool {
	lower := strings.ToLower(output)
	for _, pattern := range limitPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func clipPrompt(prompt string) string {
	if len(prompt) <= promptClipLimit {
		return prompt
	}
	return prompt[:promptClipLimit] + truncationMarker
}

// sleepJitteredBackoff implements min(0.75, min(0.5, 0.15*attempt) +
// jitter(0, 0.1)) seconds, never sleeping past the remaining budget.
func sleepJitteredBackoff(attempt int, remaining time.Duration) {
	base := time.Duration(float64(attempt)*0.15*float64(time.Second))
	if base > 500*time.Millisecond {
		base = 500 * time.Millisecond
	}
	jitter := time.Duration(rand.Float64() * float64(100*time.Millisecond))
	backoff := base + jitter
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	if backoff > remaining {
		backoff = remaining
	}
	if backoff > 0 {
		time.Sleep(backoff)
	}
}

// BuildChildEnv prepends workspaceDir/src onto the module-search-path
// environment variable, strips instrumentation variables, and removes
// duplicate entries so the workspace src always precedes any inherited
// path. Exported so command.Executor can prepare an identical child
// environment for test/lint command invocations (spec.md §4.4: "Environment
// is prepared as in §4.3").
func BuildChildEnv(workspaceDir string, extra []string) []string {
	parentEnv := os.Environ()
	srcDir := filepath.Join(workspaceDir, "src")

	var out []string
	seenKeys := make(map[string]bool)
	instrumented := make(map[string]bool, len(instrumentationEnvVars))
	for _, v := range instrumentationEnvVars {
		instrumented[v] = true
	}

	var existingSearchPath string
	for _, kv := range parentEnv {
		key, _, _ := strings.Cut(kv, "=")
		if instrumented[key] {
			continue
		}
		if key == moduleSearchPathEnvVar {
			_, existingSearchPath, _ = strings.Cut(kv, "=")
			continue
		}
		if !seenKeys[key] {
			out = append(out, kv)
			seenKeys[key] = true
		}
	}

	newSearchPath := dedupePathList(append([]string{srcDir}, strings.Split(existingSearchPath, string(os.PathListSeparator))...))
	out = append(out, moduleSearchPathEnvVar+"="+strings.Join(newSearchPath, string(os.PathListSeparator)))
	out = append(out, extra...)
	return out
}

func dedupePathList(entries []string) []string {
	seen := make(map[string]bool, len(entries))
	var out []string
	for _, e := range entries {
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
