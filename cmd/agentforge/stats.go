package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentforge/engine/internal/analytics"
)

var statsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print derived counters over recent tasks (no summarization)",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsLimit, "limit", 200, "Number of recent tasks to aggregate over")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	snap, err := a.Analytics.TaskSnapshot(context.Background(), statsLimit)
	if err != nil {
		return err
	}
	printResult(snap, func() {
		fmt.Printf("total_tasks:    %d\n", snap.TotalTasks)
		fmt.Printf("pass_rate:      %.3f\n", snap.PassRate)
		fmt.Printf("average_rounds: %.2f\n", snap.AverageRounds)
		fmt.Println("by_status:")
		for status, n := range snap.ByStatus {
			fmt.Printf("  %-16s %d\n", status, n)
		}
		fmt.Println("by_reason_bucket:")
		for bucket, n := range snap.ByReasonBucket {
			fmt.Printf("  %-20s %d\n", bucket, n)
		}
		fmt.Println("top_events:", analytics.TopEventTypes(snap, 5))
	})
	return nil
}
