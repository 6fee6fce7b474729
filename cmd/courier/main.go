// Package main provides the CLI entry point for the Courier agent gateway.
//
// Courier connects messaging platforms (Telegram, Slack, Discord) to model
// providers (Anthropic, OpenAI) behind per-conversation agent sessions with
// steering, scheduled jobs, and chat history capture.
//
// # Basic Usage
//
// Start the gateway:
//
//	courier serve --config courier.yaml
//
// Inspect persisted sessions:
//
//	courier sessions list
//
// Inspect scheduled jobs and their run history:
//
//	courier jobs list
//	courier jobs history --job daily-report
//
// # Environment Variables
//
// Configuration can be provided via environment variables:
//
//   - COURIER_CONFIG: Path to configuration file (default: courier.yaml)
//   - COURIER_STATE_DIR: Base directory for snapshots, workdirs, and history
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - TELEGRAM_BOT_TOKEN: Telegram bot token
//   - DISCORD_BOT_TOKEN: Discord bot token
//   - SLACK_BOT_TOKEN: Slack bot OAuth token
//   - SLACK_APP_TOKEN: Slack app-level token for Socket Mode
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/courier
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// defaultConfigName is the config file looked up in the working directory
// when neither --config nor COURIER_CONFIG is set.
const defaultConfigName = "courier.yaml"

func main() {
	// Configure structured logging with JSON output for production parsing.
	// serve replaces this with the config-driven logger once loaded.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	// Execute the CLI - Cobra handles argument parsing and command routing.
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the full command tree.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "courier",
		Short: "Courier - Multi-tenant agent gateway",
		Long: `Courier connects messaging platforms to model providers behind
per-conversation agent sessions.

Supported channels: Telegram, Slack, Discord
Supported providers: Anthropic (claude), OpenAI (openai), local echo (codex)

Documentation: https://github.com/courierhq/courier`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
		buildSessionsCmd(),
		buildJobsCmd(),
	)

	return rootCmd
}

// buildVersionCmd creates the "version" command. The same string is available
// as --version on the root command; the subcommand exists for scripts.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "courier %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

// resolveConfigPath applies the COURIER_CONFIG override when the flag was
// left at its default.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) == "" || path == defaultConfigName {
		if env := strings.TrimSpace(os.Getenv("COURIER_CONFIG")); env != "" {
			return env
		}
		return defaultConfigName
	}
	return path
}
