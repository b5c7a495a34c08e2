package main

import (
	"context"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Fetch a single task's current state",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	task, err := a.Service.GetTask(context.Background(), args[0])
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}
