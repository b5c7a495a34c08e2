package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"
)

var promoteMergeTarget string

var promoteCmd = &cobra.Command{
	Use:   "promote <task-id> <round>",
	Short: "Promote an earlier round's snapshot onto the merge target (promote_selected_round)",
	Args:  cobra.ExactArgs(2),
	RunE:  runPromote,
}

func init() {
	promoteCmd.Flags().StringVar(&promoteMergeTarget, "merge-target", "", "Merge target path override")
	rootCmd.AddCommand(promoteCmd)
}

func runPromote(cmd *cobra.Command, args []string) error {
	round, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}

	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	summary, err := a.Service.PromoteSelectedRound(context.Background(), args[0], round, promoteMergeTarget)
	if err != nil {
		return err
	}
	printResult(summary, func() {
		cmd.Printf("task:   %s\n", summary.TaskID)
		cmd.Printf("round:  %d\n", summary.Round)
		cmd.Printf("target: %s\n", summary.Target)
		cmd.Printf("detail: %s\n", summary.Detail)
	})
	return nil
}
