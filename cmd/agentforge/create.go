package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agentforge/engine/internal/types"
)

var createFlags struct {
	title       string
	description string
	author      string
	reviewers   []string
	projectPath string
	mergeTarget string
	autoMerge   bool
	maxRounds   int
	memoryMode  string
	repairMode  string
	sandbox     bool
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new task (create_task)",
	RunE:  runCreate,
}

func init() {
	f := &createFlags
	createCmd.Flags().StringVar(&f.title, "title", "", "Task title (required)")
	createCmd.Flags().StringVar(&f.description, "description", "", "Task description")
	createCmd.Flags().StringVar(&f.author, "author", "", "Author participant, provider#role (required)")
	createCmd.Flags().StringSliceVar(&f.reviewers, "reviewer", nil, "Reviewer participant, provider#role (repeatable, required)")
	createCmd.Flags().StringVar(&f.projectPath, "project-path", "", "Project workspace path")
	createCmd.Flags().StringVar(&f.mergeTarget, "merge-target", "", "Merge target path, required when --auto-merge")
	createCmd.Flags().BoolVar(&f.autoMerge, "auto-merge", false, "Auto-merge a passed task into merge target")
	createCmd.Flags().IntVar(&f.maxRounds, "max-rounds", 1, "Maximum evolution rounds")
	createCmd.Flags().StringVar(&f.memoryMode, "memory-mode", "basic", "Memory mode: off, basic, strict")
	createCmd.Flags().StringVar(&f.repairMode, "repair-mode", "balanced", "Repair mode: minimal, balanced, structural")
	createCmd.Flags().BoolVar(&f.sandbox, "sandbox", false, "Force sandbox bootstrap")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, closer, err := newApp()
	if err != nil {
		return err
	}
	defer closer()

	task := &types.Task{
		Title:                createFlags.title,
		Description:          createFlags.description,
		AuthorParticipant:    createFlags.author,
		ReviewerParticipants: createFlags.reviewers,
		ProjectPath:          createFlags.projectPath,
		MergeTargetPath:      createFlags.mergeTarget,
		AutoMerge:            createFlags.autoMerge,
		MaxRounds:            createFlags.maxRounds,
		MemoryMode:           types.MemoryMode(createFlags.memoryMode),
		RepairMode:           types.RepairMode(createFlags.repairMode),
		SandboxMode:          createFlags.sandbox,
	}

	created, err := a.Service.CreateTask(context.Background(), task)
	if err != nil {
		return err
	}
	printTask(created)
	return nil
}
