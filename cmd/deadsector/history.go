package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/deadsector/pkg/deadsector/manifest"
	"github.com/jamesainslie/deadsector/pkg/deadsector/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	Long: `View the history of scan, isolate and delete operations.

Each run records what it did: scanned bytes and failed offsets, files
retained in quarantine, files deleted on request.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of a specific operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove history entries older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func getManifest() (*manifest.Manifest, int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, 0, err
	}
	m, err := manifest.New(cfg.History.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to initialize history: %w", err)
	}
	return m, cfg.History.RetentionDays, nil
}

func runHistory(_ *cobra.Command, _ []string) error {
	m, _, err := getManifest()
	if err != nil {
		return err
	}
	entries, err := m.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if entries == nil {
		entries = []manifest.Entry{}
	}
	return render(&output.Report{History: entries})
}

func runHistoryShow(_ *cobra.Command, args []string) error {
	m, _, err := getManifest()
	if err != nil {
		return err
	}
	entry, err := m.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}
	return render(&output.Report{History: []manifest.Entry{*entry}})
}

func runHistoryClean(_ *cobra.Command, _ []string) error {
	m, days, err := getManifest()
	if err != nil {
		return err
	}
	if days <= 0 {
		printInfo("history.retention_days is 0, nothing removed")
		return nil
	}

	printInfo("Cleaning history entries older than %d days...", days)
	n, err := m.Cleanup(days)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo("Removed %d entries.", n)
	return nil
}
