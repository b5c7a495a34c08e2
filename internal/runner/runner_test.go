package runner

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/engine/internal/adapter"
	"github.com/agentforge/engine/internal/types"
)

// passthroughAdapter feeds the prompt on stdin and returns output unchanged,
// enough surface for Runner.Run's Adapter calls in tests.
type passthroughAdapter struct{ name string }

func (p passthroughAdapter) Name() string                      { return p.name }
func (p passthroughAdapter) Capabilities() adapter.Capabilities { return adapter.Capabilities{} }
func (p passthroughAdapter) BuildArgv(adapter.BuildArgvInput) []string { return nil }
func (p passthroughAdapter) PrepareRuntimeInvocation(argv []string, prompt string) ([]string, string) {
	return argv, prompt
}
func (p passthroughAdapter) NormalizeOutput(raw string) string { return raw }

func TestRunDryRunReturnsPassWithoutExecuting(t *testing.T) {
	r := New()
	result := r.Run(context.Background(), Options{DryRun: true, Argv: []string{"/bin/does-not-exist"}})
	assert.Equal(t, types.VerdictNoBlocker, result.Verdict)
	assert.Equal(t, types.NextActionPass, result.NextAction)
	assert.Empty(t, result.RuntimeError)
}

func TestRunEmptyArgvIsCommandNotConfigured(t *testing.T) {
	r := New()
	result := r.Run(context.Background(), Options{Adapter: passthroughAdapter{name: "x"}})
	assert.Contains(t, result.RuntimeError, "command_not_configured")
}

func TestRunUnknownCommandIsCommandNotFound(t *testing.T) {
	r := New()
	result := r.Run(context.Background(), Options{
		Adapter:        passthroughAdapter{name: "x"},
		Argv:           []string{"agentforge-nonexistent-binary-zzz"},
		TimeoutSeconds: 5,
	})
	assert.Contains(t, result.RuntimeError, "command_not_found")
}

func TestRunSuccessfulEchoExtractsControlObject(t *testing.T) {
	r := New()
	result := r.Run(context.Background(), Options{
		Adapter:        passthroughAdapter{name: "echo"},
		Argv:           []string{"/bin/sh", "-c", `echo '{"verdict": "NO_BLOCKER", "next_action": "pass"}'`},
		TimeoutSeconds: 5,
	})
	assert.Equal(t, 0, result.ReturnCode)
	assert.Empty(t, result.RuntimeError)
	assert.Equal(t, types.VerdictNoBlocker, result.Verdict)
	assert.Equal(t, types.NextActionPass, result.NextAction)
}

func TestRunNonZeroExitIsCommandFailed(t *testing.T) {
	r := New()
	result := r.Run(context.Background(), Options{
		Adapter:        passthroughAdapter{name: "x"},
		Argv:           []string{"/bin/sh", "-c", "exit 3"},
		TimeoutSeconds: 5,
	})
	assert.Equal(t, 3, result.ReturnCode)
	assert.Contains(t, result.RuntimeError, "command_failed")
}

func TestRunProviderLimitPatternDetected(t *testing.T) {
	r := New()
	result := r.Run(context.Background(), Options{
		Adapter:        passthroughAdapter{name: "x"},
		Argv:           []string{"/bin/sh", "-c", "echo 'you hit your limit for today'"},
		TimeoutSeconds: 5,
	})
	assert.Contains(t, result.RuntimeError, "provider_limit")
}

func TestRunTimeoutExhaustsRetryBudget(t *testing.T) {
	r := New()
	start := time.Now()
	result := r.Run(context.Background(), Options{
		Adapter:        passthroughAdapter{name: "x"},
		Argv:           []string{"/bin/sleep", "5"},
		TimeoutSeconds: 0.2,
		TimeoutRetries: 1,
	})
	elapsed := time.Since(start)
	assert.Contains(t, result.RuntimeError, "command_timeout")
	assert.Less(t, elapsed, 4*time.Second)
}

func TestRunStreamsOutputViaOnStream(t *testing.T) {
	r := New()
	var lines []string
	result := r.Run(context.Background(), Options{
		Adapter:        passthroughAdapter{name: "x"},
		Argv:           []string{"/bin/sh", "-c", "echo line-one; echo line-two"},
		TimeoutSeconds: 5,
		OnStream: func(stream, chunk string) {
			lines = append(lines, chunk)
		},
	})
	require.Empty(t, result.RuntimeError)
	assert.Contains(t, lines, "line-one")
	assert.Contains(t, lines, "line-two")
}

func TestRunLogsTerminalOutcomeToInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	r := New()
	r.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	r.Run(context.Background(), Options{
		Adapter:        passthroughAdapter{name: "x"},
		Argv:           []string{"/bin/sh", "-c", "exit 3"},
		TimeoutSeconds: 5,
	})

	assert.Contains(t, buf.String(), "command_failed")
}

func TestRunWithoutInjectedLoggerDoesNotPanic(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() {
		r.Run(context.Background(), Options{Adapter: passthroughAdapter{name: "x"}})
	})
}
