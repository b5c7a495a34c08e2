package main

import (
	"context"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Request cancellation of a running or queued task (request_cancel)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	task, err := a.Service.RequestCancel(context.Background(), args[0])
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}
