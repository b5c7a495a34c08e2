package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/agentforge/engine/internal/taxonomy"
)

// repeatThreshold is the consecutive-repeat count that triggers a
// strategy_shifted event for a given signature.
const repeatThreshold = 3

// cumulativeShiftLimit is the total number of strategy shifts across a
// task's lifetime after which the engine gives up with loop_no_progress.
const cumulativeShiftLimit = 5

// signatureTracker tracks one repeated-value stream (e.g. gate reason,
// implementation output) and counts consecutive repeats.
type signatureTracker struct {
	last  string
	count int
}

// observe records value, returning true once the consecutive-repeat count
// reaches repeatThreshold, and on every further repeat past it (so a
// sustained repeat keeps contributing to the cumulative shift count).
func (t *signatureTracker) observe(value string) bool {
	sig := signatureHash(value)
	if sig == t.last {
		t.count++
	} else {
		t.last = sig
		t.count = 1
	}
	return t.count >= repeatThreshold
}

func signatureHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}

// VerificationSignature captures the inputs to the verification-repeat
// tracker.
type VerificationSignature struct {
	TestsOK bool
	LintOK  bool
	Reason  taxonomy.Reason
}

func (v VerificationSignature) String() string {
	return fmt.Sprintf("%v|%v|%s", v.TestsOK, v.LintOK, v.Reason)
}

// ProgressTracker implements spec.md §4.5's loop-progress tracker: it
// watches gate_reason, implementation output, concatenated review output,
// and a verification signature, emitting a strategy hint after 3
// consecutive repeats of any one of them, and declaring loop_no_progress
// after 5 cumulative shifts.
type ProgressTracker struct {
	gateReason     signatureTracker
	implementation signatureTracker
	review         signatureTracker
	verification   signatureTracker

	cumulativeShifts int
}

// NewProgressTracker returns a fresh tracker for one task.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{}
}

// Shift is a result of Observe: whether a strategy_shifted event should be
// emitted, its hint text, and whether the cumulative limit has now been
// reached (the caller should terminate with loop_no_progress).
type Shift struct {
	Fired    bool
	Hint     string
	Terminal bool
}

// Observe feeds one round's outcome into the tracker and returns the
// resulting shift state. Only one hint fires per call, in the fixed
// priority order: gate_reason, implementation, review, verification.
func (p *ProgressTracker) Observe(gateReason taxonomy.Reason, implementationOutput, concatenatedReviewOutput string, verification VerificationSignature) Shift {
	reasonsInOrder := []struct {
		fired bool
		hint  string
	}{
		{p.gateReason.observe(string(gateReason)), strategyHintFromReason(gateReason)},
		{p.implementation.observe(implementationOutput), strategyHintFromReason(gateReason)},
		{p.review.observe(concatenatedReviewOutput), strategyHintFromReason(gateReason)},
		{p.verification.observe(verification.String()), strategyHintFromReason(gateReason)},
	}

	for _, r := range reasonsInOrder {
		if r.fired {
			p.cumulativeShifts++
			return Shift{
				Fired:    true,
				Hint:     r.hint,
				Terminal: p.cumulativeShifts >= cumulativeShiftLimit,
			}
		}
	}
	return Shift{}
}

// strategyHintFromReason returns a concrete, reason-specific hint, grounded
// on the original implementation's _strategy_hint_from_reason. The engine
// logs the hint and emits it in the strategy_shifted event payload; it is
// not added to the prompts of later rounds.
func strategyHintFromReason(reason taxonomy.Reason) string {
	switch reason {
	case taxonomy.ReasonPrecompletionEvidenceMissing:
		return "Strategy shift: cite explicit repo-relative file paths for every change you claim to have made next round."
	case taxonomy.ReasonTestsFailed:
		return "Strategy shift: make a test-first micro-fix; stop expanding scope and make the smallest possible change that turns the failing test green."
	case taxonomy.ReasonLintFailed:
		return "Strategy shift: make a test-first micro-fix; fix only the reported lint violations before touching anything else."
	case taxonomy.ReasonReviewBlocker:
		return "Strategy shift: restrict the next round to exactly the blocker the reviewer raised; do not introduce new surface area."
	case taxonomy.ReasonReviewUnknown:
		return "Strategy shift: the reviewer could not render a verdict — simplify the change so it is easy to review in one pass."
	default:
		return "Strategy shift: the same outcome has repeated; change approach before the next round."
	}
}
