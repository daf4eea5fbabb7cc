package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/config"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/history"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/output"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View merge history",
	Long: `View past merge sessions, newest first.

Every merge is recorded, including failed ones, unless history is
disabled in the configuration or --no-history is given.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the report of one merge",
	Long:  `Display the full report of a merge. Any unique prefix of the ID works.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old history entries",
	Long: `Remove history entries older than the retention period
(history.retention_days). --all removes every entry.`,
	Args: cobra.NoArgs,
	RunE: runHistoryClean,
}

var (
	historyLimit    int
	historyCleanAll bool
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show (0 for all)")
	historyCleanCmd.Flags().BoolVar(&historyCleanAll, "all", false, "remove every entry")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// openHistory opens the configured history store.
func openHistory() (*history.Store, error) {
	dir := cfg.History.Path
	if dir == "" {
		dir = config.DefaultHistoryPath()
	}
	store, err := history.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// runHistory lists recent merges.
func runHistory(_ *cobra.Command, _ []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	reports, err := store.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if err := render(func(f output.Formatter, buf *bytes.Buffer) error {
		return f.FormatHistory(buf, reports)
	}); err != nil {
		return err
	}
	if len(reports) > 0 {
		printInfo("Use 'apkmerge history show <id>' for details on a specific merge.")
	}
	return nil
}

// runHistoryShow displays one stored report.
func runHistoryShow(_ *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := store.Get(args[0])
	if err != nil {
		return err
	}
	return showReport(report)
}

func showReport(report *types.MergeReport) error {
	return render(func(f output.Formatter, buf *bytes.Buffer) error {
		return f.FormatReport(buf, report)
	})
}

// runHistoryClean removes old entries.
func runHistoryClean(_ *cobra.Command, _ []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	days := retentionDays(cfg.History.RetentionDays, historyCleanAll)
	if days > 0 {
		printInfo("Cleaning history entries older than %d days...", days)
	}

	removed, err := store.Cleanup(days)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo("Removed %d history entries.", removed)
	return nil
}

// retentionDays returns the retention passed to Cleanup: 0 removes
// everything, an unset retention falls back to the default.
func retentionDays(configured int, all bool) int {
	if all {
		return 0
	}
	if configured <= 0 {
		return config.DefaultRetentionDays
	}
	return configured
}
