package main

import (
	"context"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events <task-id>",
	Short: "List a task's append-only event log",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	events, err := a.Service.ListEvents(context.Background(), args[0])
	if err != nil {
		return err
	}
	printEvents(events)
	return nil
}
