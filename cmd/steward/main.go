// Package main provides the CLI entry point for steward, a tool-using
// assistant server with human approval of high-risk actions.
//
// Start the server:
//
//	steward serve --config steward.yaml
//
// API keys are read from the configuration file, which may reference
// environment variables such as ${ANTHROPIC_API_KEY}.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "steward",
		Short: "Steward - tool-using assistant with human approval gates",
		Long: `Steward runs a conversational assistant that can call tools on the
user's behalf. Low-risk tools execute immediately; high-risk tools are
held behind an explicit approval step, and every interaction is written
to an audit trail.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
