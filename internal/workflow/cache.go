package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// staticPrefixMaxChars bounds the static-prefix signature when no
// "Context:" marker is present.
const staticPrefixMaxChars = 1800

// contextMarker is the delimiter after which prompt content is considered
// dynamic (per-round) rather than static (cacheable) prefix.
const contextMarker = "Context:"

// PromptSignature is the three-way fingerprint computed before each agent
// invocation.
type PromptSignature struct {
	ModelParams   string
	Toolset       string
	StaticPrefix  string
}

// ComputePromptSignature derives the three signatures from the invocation
// inputs.
func ComputePromptSignature(model, modelParams string, toolsetToggles map[string]bool, prompt string) PromptSignature {
	return PromptSignature{
		ModelParams:  hashString(model + "|" + modelParams),
		Toolset:      hashString(toolsetSignature(toolsetToggles)),
		StaticPrefix: hashString(staticPrefix(prompt)),
	}
}

func staticPrefix(prompt string) string {
	if idx := strings.Index(prompt, contextMarker); idx >= 0 {
		return prompt[:idx]
	}
	if len(prompt) > staticPrefixMaxChars {
		return prompt[:staticPrefixMaxChars]
	}
	return prompt
}

func toolsetSignature(toggles map[string]bool) string {
	if len(toggles) == 0 {
		return ""
	}
	keys := make([]string, 0, len(toggles))
	for k := range toggles {
		keys = append(keys, k)
	}
	sortStrings(keys)
	var b strings.Builder
	for _, k := range keys {
		if toggles[k] {
			b.WriteString(k)
			b.WriteByte(';')
		}
	}
	return b.String()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// CacheProbeResult is the prompt_cache_probe event payload, plus an
// optional break reason when a signature changed from the previous call
// for the same (participant, stage) pair.
type CacheProbeResult struct {
	ReuseEligible bool
	Reused        bool
	BreakReason   string // "model_changed" | "toolset_changed" | "prefix_changed" | ""
}

// PromptCacheTracker remembers the last signature seen per (participant,
// stage) key.
type PromptCacheTracker struct {
	last map[string]PromptSignature
}

// NewPromptCacheTracker returns an empty tracker.
func NewPromptCacheTracker() *PromptCacheTracker {
	return &PromptCacheTracker{last: make(map[string]PromptSignature)}
}

// Probe compares sig against the last signature recorded for key
// (participant|stage), updating the tracker and returning the probe
// result.
func (t *PromptCacheTracker) Probe(participant, stage string, sig PromptSignature) CacheProbeResult {
	key := participant + "|" + stage
	prev, ok := t.last[key]
	t.last[key] = sig

	if !ok {
		return CacheProbeResult{ReuseEligible: false, Reused: false}
	}

	switch {
	case prev.ModelParams != sig.ModelParams:
		return CacheProbeResult{ReuseEligible: true, Reused: false, BreakReason: "model_changed"}
	case prev.Toolset != sig.Toolset:
		return CacheProbeResult{ReuseEligible: true, Reused: false, BreakReason: "toolset_changed"}
	case prev.StaticPrefix != sig.StaticPrefix:
		return CacheProbeResult{ReuseEligible: true, Reused: false, BreakReason: "prefix_changed"}
	default:
		return CacheProbeResult{ReuseEligible: true, Reused: true}
	}
}
