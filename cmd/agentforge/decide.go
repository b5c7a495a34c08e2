package main

import (
	"context"

	"github.com/spf13/cobra"
)

var decideNote string

var decideCmd = &cobra.Command{
	Use:   "decide <task-id> <approve|reject|revise>",
	Short: "Submit an author decision for a waiting_manual task (submit_author_decision)",
	Args:  cobra.ExactArgs(2),
	RunE:  runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decideNote, "note", "", "Optional note attached to the decision")
	rootCmd.AddCommand(decideCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	task, err := a.Service.SubmitAuthorDecision(context.Background(), args[0], args[1], decideNote)
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}
