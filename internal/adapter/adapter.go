// Package adapter implements the ProviderAdapter protocol: per-provider
// argv construction, runtime-invocation shaping, and output normalization
// for external agent command-line tools.
package adapter

import (
	"bufio"
	"encoding/json"
	"strings"

	"github.com/agentforge/engine/internal/types"
)

// Capabilities declares which provider-specific feature toggles an adapter
// understands.
type Capabilities struct {
	ClaudeTeamAgents bool
	CodexMultiAgents bool
}

// BuildArgvInput carries the inputs to Adapter.BuildArgv.
type BuildArgvInput struct {
	Base              string
	Model             string
	ModelParams       string
	ClaudeTeamAgents  bool
	CodexMultiAgents  bool
}

// Adapter is implemented once per provider family.
type Adapter interface {
	// Name identifies the provider key (e.g. "claude", "codex", "gemini").
	Name() string

	// Capabilities reports which feature toggles this adapter honors.
	Capabilities() Capabilities

	// BuildArgv constructs the base argv for invoking the provider's CLI.
	BuildArgv(in BuildArgvInput) []string

	// PrepareRuntimeInvocation produces the final argv and stdin payload.
	// Some providers require the prompt passed as a flag instead of stdin.
	PrepareRuntimeInvocation(argv []string, prompt string) (finalArgv []string, stdin string)

	// NormalizeOutput filters provider-specific noise, preserving the last
	// structured control object verbatim.
	NormalizeOutput(raw string) string
}

// ControlObject is the structured agent output contract (spec.md §6).
type ControlObject struct {
	Verdict         types.Verdict     `json:"verdict"`
	NextAction      types.NextAction  `json:"next_action"`
	Issue           string            `json:"issue,omitempty"`
	Impact          string            `json:"impact,omitempty"`
	Next            string            `json:"next,omitempty"`
	Issues          []json.RawMessage `json:"issues,omitempty"`
	IssueResponses  []json.RawMessage `json:"issue_responses,omitempty"`
}

// ExtractControlObject scans raw provider output for the last valid JSON
// control object (bare or fenced), matching spec §4.3's "first JSON control
// object in the output" rule read over the full text (the original keeps
// scanning and the last match wins when multiple candidates parse, since
// later output supersedes earlier chatter). Returns (nil, false) if none
// parses with both required keys present.
func ExtractControlObject(raw string, allowLegacyControlLines bool) (*ControlObject, bool) {
	var found *ControlObject

	for _, candidate := range candidateJSONBlocks(raw) {
		var obj ControlObject
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
			continue
		}
		if obj.Verdict == "" || obj.NextAction == "" {
			continue
		}
		found = &obj
	}
	if found != nil {
		return found, true
	}

	if allowLegacyControlLines {
		if obj, ok := extractLegacyControlLines(raw); ok {
			return obj, true
		}
	}
	return nil, false
}

// candidateJSONBlocks finds fenced ```json blocks and bare top-level {...}
// objects in source text, in order of appearance.
func candidateJSONBlocks(raw string) []string {
	var out []string

	const fenceOpen = "```"
	rest := raw
	for {
		idx := strings.Index(rest, fenceOpen)
		if idx < 0 {
			break
		}
		rest = rest[idx+len(fenceOpen):]
		// Skip an optional language tag on the same line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		end := strings.Index(rest, fenceOpen)
		if end < 0 {
			break
		}
		block := strings.TrimSpace(rest[:end])
		if strings.HasPrefix(block, "{") {
			out = append(out, block)
		}
		rest = rest[end+len(fenceOpen):]
	}

	for _, candidate := range bareJSONObjects(raw) {
		out = append(out, candidate)
	}
	return out
}

// bareJSONObjects does a brace-depth scan to find top-level {...} regions,
// without requiring a JSON parser pass over the whole document.
func bareJSONObjects(raw string) []string {
	var out []string
	depth := 0
	start := -1
	for i, r := range raw {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, raw[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

func extractLegacyControlLines(raw string) (*ControlObject, bool) {
	var verdict, next string
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "VERDICT:"):
			verdict = strings.TrimSpace(strings.TrimPrefix(line, "VERDICT:"))
		case strings.HasPrefix(line, "NEXT_ACTION:"):
			next = strings.TrimSpace(strings.TrimPrefix(line, "NEXT_ACTION:"))
		}
	}
	if verdict == "" || next == "" {
		return nil, false
	}
	return &ControlObject{Verdict: types.Verdict(verdict), NextAction: types.NextAction(next)}, true
}
