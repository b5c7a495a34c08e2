package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	output     string
	cfgFile    string
	storageDir string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "agentforge",
	Short: "agentforge is the CLI for the multi-agent task lifecycle engine",
	Long: `agentforge drives OrchestratorService: create tasks, run them through
the proposal/discussion/implementation/review loop, resolve waiting_manual
decisions, and inspect task/event history.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (not read: configuration comes from .agentforge/config.yaml and ~/.agentforge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", "", "Override the configured storage directory")
}
