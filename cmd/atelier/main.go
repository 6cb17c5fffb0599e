// Package main provides the CLI entry point for the atelier core: the
// tiered conversational router and print farm scheduler.
//
// Start the server:
//
//	atelier serve --config atelier.yaml
//
// Route a single prompt without a server:
//
//	atelier ask "what nozzle temperature for PETG"
//
// Configuration can reference environment variables with ${VAR}
// expansion; API keys are typically provided that way:
//
//   - ANTHROPIC_API_KEY: frontier tier key
//   - PERPLEXITY_API_KEY: web tier key
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

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "atelier",
		Short: "Atelier - local-first AI router and print farm scheduler",
		Long: `Atelier routes conversational turns across a local model, a
web-grounded provider, and a frontier model, with tool execution over
MCP servers, and schedules print jobs across a heterogeneous printer
fleet.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAskCmd(),
	)
	return rootCmd
}
