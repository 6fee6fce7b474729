package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the gateway server.
// This is the primary command for running Courier in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Courier gateway server",
		Long: `Start the Courier gateway server with all configured channels and providers.

The server will:
1. Load configuration from the specified file (or courier.yaml)
2. Start all enabled channel boundaries (Telegram, Slack, Discord)
3. Initialize model provider adapters (Anthropic, OpenAI, codex echo)
4. Restore persisted sessions and start the session manager
5. Start the cron scheduler when jobs are configured
6. Expose /metrics and /healthz on the metrics port

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  courier serve

  # Start with custom config
  courier serve --config /etc/courier/production.yaml

  # Start with debug logging
  courier serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}
