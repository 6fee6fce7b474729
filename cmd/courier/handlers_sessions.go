package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/identity"
	"github.com/courierhq/courier/internal/sessions"
	"github.com/spf13/cobra"
)

// =============================================================================
// Sessions Command Handlers
// =============================================================================

func runSessionsList(cmd *cobra.Command, configPath string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	snapshots, err := sessions.ListSnapshots(cfg.Sessions.SnapshotDir)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No persisted sessions found.")
		return nil
	}
	if limit > 0 && len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tQUERIES\tTOKENS IN\tTOKENS OUT\tCONTEXT\tSAVED")
	for _, snap := range snapshots {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
			snap.Key,
			snap.TotalQueries,
			snap.TotalInputTokens,
			snap.TotalOutputTokens,
			contextUsage(snap.ContextWindowUsage, snap.ContextWindowSize),
			snap.SavedAt.Local().Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, configPath, key string) error {
	if _, err := identity.ParseSessionKey(key); err != nil {
		return fmt.Errorf("invalid session key %q: %w", key, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	snapshots, err := sessions.ListSnapshots(cfg.Sessions.SnapshotDir)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	for _, snap := range snapshots {
		if snap.Key != key {
			continue
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Key: %s\n", snap.Key)
		fmt.Fprintf(out, "Provider session: %s\n", orDash(snap.SessionID))
		fmt.Fprintf(out, "Queries: %d\n", snap.TotalQueries)
		fmt.Fprintf(out, "Tokens: %d in / %d out\n", snap.TotalInputTokens, snap.TotalOutputTokens)
		fmt.Fprintf(out, "Context window: %s\n", contextUsage(snap.ContextWindowUsage, snap.ContextWindowSize))
		fmt.Fprintf(out, "Working dir: %s\n", orDash(snap.WorkingDir))
		fmt.Fprintf(out, "Saved: %s\n", snap.SavedAt.Local().Format(time.RFC3339))
		return nil
	}
	return fmt.Errorf("no snapshot for session %q", key)
}

// contextUsage renders used/size token counts, "-" when never reported.
func contextUsage(used, size int) string {
	if size <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", used, size)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
