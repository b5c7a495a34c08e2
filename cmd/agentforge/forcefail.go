package main

import (
	"context"

	"github.com/spf13/cobra"
)

var forceFailCmd = &cobra.Command{
	Use:   "force-fail <task-id> <reason>",
	Short: "Force-fail a non-terminal task, honoring a concurrent pass (force_fail_task)",
	Args:  cobra.ExactArgs(2),
	RunE:  runForceFail,
}

var markFailedCmd = &cobra.Command{
	Use:   "mark-failed <task-id> <reason>",
	Short: "Mark a task failed_system: CAS from running, no-op if already terminal, direct update otherwise (mark_failed_system)",
	Args:  cobra.ExactArgs(2),
	RunE:  runMarkFailed,
}

func init() {
	rootCmd.AddCommand(forceFailCmd)
	rootCmd.AddCommand(markFailedCmd)
}

func runForceFail(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	task, err := a.Service.ForceFailTask(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}

func runMarkFailed(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	task, err := a.Service.MarkFailedSystem(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}
