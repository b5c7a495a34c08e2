package main

import (
	"context"
	"fmt"

	"github.com/agentforge/engine/internal/orchestrator"
	"github.com/agentforge/engine/internal/types"
	"github.com/spf13/cobra"
)

var (
	gateTestsOK  bool
	gateLintOK   bool
	gateVerdicts []string
)

var gateCmd = &cobra.Command{
	Use:   "evaluate-gate <task-id>",
	Short: "Manually evaluate the round gate for a running task (evaluate_gate)",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvaluateGate,
}

func init() {
	gateCmd.Flags().BoolVar(&gateTestsOK, "tests-ok", false, "Whether the test command passed")
	gateCmd.Flags().BoolVar(&gateLintOK, "lint-ok", false, "Whether the lint command passed")
	gateCmd.Flags().StringSliceVar(&gateVerdicts, "reviewer-verdict", nil, "Reviewer verdict (NO_BLOCKER|BLOCKER|UNKNOWN); repeat per reviewer")
	rootCmd.AddCommand(gateCmd)
}

func runEvaluateGate(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	verdicts := make([]types.Verdict, 0, len(gateVerdicts))
	for _, v := range gateVerdicts {
		verdict := types.Verdict(v)
		switch verdict {
		case types.VerdictNoBlocker, types.VerdictBlocker, types.VerdictUnknown:
		default:
			return fmt.Errorf("invalid --reviewer-verdict %q: must be one of NO_BLOCKER, BLOCKER, UNKNOWN", v)
		}
		verdicts = append(verdicts, verdict)
	}

	task, err := a.Service.EvaluateGate(context.Background(), args[0], orchestrator.GateInput{
		TestsOK:          gateTestsOK,
		LintOK:           gateLintOK,
		ReviewerVerdicts: verdicts,
	})
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}
