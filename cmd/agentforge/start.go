package main

import (
	"context"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Start a queued task and run it to its next terminal/waiting state (start_task)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	task, err := a.Service.StartTask(context.Background(), args[0])
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}
