package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentforge/engine/internal/types"
)

// printResult renders v as JSON when --output=json, otherwise calls
// table, which each command supplies for its own shape.
func printResult(v any, table func()) {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	table()
}

func printTask(task *types.Task) {
	printResult(task, func() {
		fmt.Printf("id:               %s\n", task.ID)
		fmt.Printf("title:            %s\n", task.Title)
		fmt.Printf("status:           %s\n", task.Status)
		fmt.Printf("last_gate_reason: %s\n", task.LastGateReason)
		fmt.Printf("rounds_completed: %d\n", task.RoundsCompleted)
		fmt.Printf("author:           %s\n", task.AuthorParticipant)
		fmt.Printf("reviewers:        %v\n", task.ReviewerParticipants)
		fmt.Printf("workspace:        %s\n", task.WorkspacePath)
	})
}

func printTasks(tasks []*types.Task) {
	printResult(tasks, func() {
		fmt.Printf("%-16s %-14s %-28s %s\n", "ID", "STATUS", "REASON", "TITLE")
		for _, t := range tasks {
			fmt.Printf("%-16s %-14s %-28s %s\n", t.ID, t.Status, t.LastGateReason, t.Title)
		}
	})
}

func printEvents(events []*types.TaskEvent) {
	printResult(events, func() {
		for _, e := range events {
			fmt.Printf("[%4d] round=%-3d %s\n", e.Seq, e.Round, e.Type)
		}
	})
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
