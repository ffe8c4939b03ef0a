package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/harrison/autopilot/internal/logger"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show execution history statistics",
		Long: `Show step statistics and recent tasks from the history database.

Examples:
  autopilot history
  autopilot history --since 168h --limit 20
  autopilot history clear`,
		Args: cobra.NoArgs,
		RunE: historyCommand,
	}

	cmd.Flags().Duration("since", 24*time.Hour, "Statistics window")
	cmd.Flags().Int("limit", 10, "Number of recent tasks to show")

	cmd.AddCommand(newHistoryClearCommand())

	return cmd
}

func historyCommand(cmd *cobra.Command, args []string) error {
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")
	if since <= 0 {
		return fmt.Errorf("--since must be positive, got %v", since)
	}

	cfg, err := loadConfig(cmd, overrides{})
	if err != nil {
		return err
	}
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	stats, err := store.StepStats(ctx, time.Now().Add(-since))
	if err != nil {
		return fmt.Errorf("failed to read step statistics: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Steps since %s: %d\n", stats.Since.Format(time.RFC3339), stats.Total())
	if stats.Total() > 0 {
		bar := logger.NewProgressBar(stats.Succeeded, stats.Total(), 20, false).WithPrefix("  succeeded ")
		fmt.Fprintln(out, bar.Render())
		fmt.Fprintf(out, "  failed: %d, healed: %d, mean duration: %s\n",
			stats.Failed, stats.Healed, stats.MeanDuration.Round(time.Millisecond))
	}

	if limit <= 0 {
		return nil
	}
	tasks, err := store.RecentTasks(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to read recent tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintf(out, "\nNo tasks recorded.\n")
		return nil
	}

	fmt.Fprintf(out, "\nRecent tasks:\n")
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Task", "Status", "Goal", "Retries", "Duration"})
	for _, task := range tasks {
		tw.AppendRow(table.Row{task.TaskID, task.Status, task.Goal, task.RetryCount, task.Duration.Round(time.Millisecond)})
	}
	tw.Render()
	return nil
}

func newHistoryClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete history older than history.keep_days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, overrides{})
			if err != nil {
				return err
			}
			store, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Cleanup(cmd.Context(), cfg.HistoryCutoff(time.Now()))
			if err != nil {
				return fmt.Errorf("failed to clear history: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d records older than %d days.\n", removed, cfg.History.KeepDays)
			return nil
		},
	}
}
