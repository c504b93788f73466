// Package main is the entry point for the Life Support colony server.
// It only handles command wiring and dependency injection.
// NO simulation logic belongs here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "colony-server",
		Short: "Life Support - colony survival simulation server",
		Long: `colony-server runs the Life Support colony simulation.

It ticks the colony on a schedule, serves it over HTTP, server-sent events
and WebSocket, and keeps an audit journal that can be verified offline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config (default colony.yaml if present)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newAuditCmd(),
		newJournalCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
