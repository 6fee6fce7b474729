package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/cron"
	"github.com/spf13/cobra"
)

// =============================================================================
// Jobs Command Handlers
// =============================================================================

func runJobsList(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	if !cfg.Cron.Enabled {
		fmt.Fprintln(out, "Note: the scheduler is disabled in this config; listed jobs will not run.")
	}
	if len(cfg.Cron.Jobs) == 0 {
		fmt.Fprintln(out, "No jobs configured.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENABLED\tSCHEDULE\tNEXT RUN")
	for _, jc := range cfg.Cron.Jobs {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
			jc.ID, jc.Name, jc.Enabled, describeSchedule(jc), nextRun(jc, now))
	}
	return w.Flush()
}

func runJobsHistory(cmd *cobra.Command, configPath, jobID string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Cron.HistoryPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No history_path configured; execution history is kept in memory only.")
		return nil
	}

	store, err := cron.NewSQLiteExecutionStore(cfg.Cron.HistoryPath)
	if err != nil {
		return fmt.Errorf("open execution history: %w", err)
	}
	defer store.Close()

	executions, err := store.List(cmd.Context(), jobID, limit)
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}
	if len(executions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No executions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, exec := range executions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			exec.JobID,
			exec.Status,
			exec.StartedAt.Local().Format(time.RFC3339),
			formatDuration(exec),
			truncate(exec.Error, 60),
		)
	}
	return w.Flush()
}

// describeSchedule renders a job's schedule, or the parse failure when the
// config is bad. The scheduler would skip such a job at startup with the
// same error.
func describeSchedule(jc cron.JobConfig) string {
	sched, err := cron.NewSchedule(jc.Schedule)
	if err != nil {
		return fmt.Sprintf("invalid (%v)", err)
	}
	return sched.String()
}

func nextRun(jc cron.JobConfig, now time.Time) string {
	if !jc.Enabled {
		return "-"
	}
	sched, err := cron.NewSchedule(jc.Schedule)
	if err != nil {
		return "-"
	}
	next, ok, err := sched.Next(now)
	if err != nil || !ok {
		return "retired"
	}
	return next.Local().Format(time.RFC3339)
}

func formatDuration(exec *cron.JobExecution) string {
	if exec.Status == cron.ExecutionRunning {
		return "-"
	}
	return exec.Duration.Round(time.Millisecond).String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
