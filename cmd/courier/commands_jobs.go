package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Jobs Commands
// =============================================================================

// buildJobsCmd creates the "jobs" command group for scheduled job tooling.
func buildJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect scheduled jobs",
	}
	cmd.AddCommand(buildJobsListCmd(), buildJobsHistoryCmd())
	return cmd
}

func buildJobsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runJobsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

func buildJobsHistoryCmd() *cobra.Command {
	var (
		configPath string
		jobID      string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show scheduled job execution history",
		Long: `Show recorded executions from the scheduler's history store. With no
history_path configured the gateway keeps history in memory only, so there is
nothing to report here.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runJobsHistory(cmd, configPath, jobID, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().StringVar(&jobID, "job", "", "Filter by job ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "Max number of executions to show")
	return cmd
}
