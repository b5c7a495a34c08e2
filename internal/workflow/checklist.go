package workflow

import "github.com/agentforge/engine/internal/taxonomy"

// ChecklistInput carries the structured checks evaluated at the end of a
// round (spec.md §4.5 step 8).
type ChecklistInput struct {
	TestCommandConfigured bool
	LintCommandConfigured bool
	VerificationExecuted  bool
	TestsOK               bool
	LintOK                bool
	EvidencePaths         []string
}

// ChecklistResult is the precompletion_checklist event payload.
type ChecklistResult struct {
	Passed        bool
	Reason        taxonomy.Reason
	EvidencePaths []string
}

// EvaluateChecklist applies the fixed reason-priority chain: commands
// missing, then verification missing, then tests failed, then lint failed,
// then evidence missing, else passed.
func EvaluateChecklist(in ChecklistInput) ChecklistResult {
	evidencePresent := len(in.EvidencePaths) > 0

	switch {
	case !in.TestCommandConfigured || !in.LintCommandConfigured:
		return ChecklistResult{Passed: false, Reason: taxonomy.ReasonPrecompletionCommandsMissing, EvidencePaths: in.EvidencePaths}
	case !in.VerificationExecuted:
		return ChecklistResult{Passed: false, Reason: taxonomy.ReasonPrecompletionVerificationMissing, EvidencePaths: in.EvidencePaths}
	case !in.TestsOK:
		return ChecklistResult{Passed: false, Reason: taxonomy.ReasonTestsFailed, EvidencePaths: in.EvidencePaths}
	case !in.LintOK:
		return ChecklistResult{Passed: false, Reason: taxonomy.ReasonLintFailed, EvidencePaths: in.EvidencePaths}
	case !evidencePresent:
		return ChecklistResult{Passed: false, Reason: taxonomy.ReasonPrecompletionEvidenceMissing, EvidencePaths: in.EvidencePaths}
	default:
		return ChecklistResult{Passed: true, Reason: taxonomy.ReasonPassed, EvidencePaths: in.EvidencePaths}
	}
}
