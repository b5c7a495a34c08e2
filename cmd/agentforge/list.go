package main

import (
	"context"

	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tasks",
	RunE:  runList,
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum tasks to return")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	tasks, err := a.Service.ListTasks(context.Background(), listLimit)
	if err != nil {
		return err
	}
	printTasks(tasks)
	return nil
}
