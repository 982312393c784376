package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - adaptive policy gate for autonomous agents",
	Long: `Warden gates autonomous-agent tool calls and learns from their outcomes.

Each tool call is checked against:
  - A YAML rule set with per-category enforcement levels
  - A per-session confidence ledger with capability tiers
  - A per-tool circuit breaker over recent failures
  - A fixed deny-list of dangerous commands

Enforcement adapts: rules observe first, then warn, then block, with
thresholds tuned from false-positive and adoption feedback.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", ".warden/config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
