package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/deadsector/pkg/deadsector/diskinfo"
	"github.com/jamesainslie/deadsector/pkg/deadsector/output"
)

var disksCmd = &cobra.Command{
	Use:   "disks",
	Short: "List mounted filesystems and raw block devices",
	Long: `List mounted filesystems with their free space, and the whole-disk
block devices behind them that 'deadsector scan' can read.`,
	Args: cobra.NoArgs,
	RunE: runDisks,
}

func init() {
	rootCmd.AddCommand(disksCmd)
}

func runDisks(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	inspector := diskinfo.New()

	partitions, err := inspector.Partitions(ctx)
	if err != nil {
		return err
	}

	report := &output.Report{Disks: &output.DiskListing{Partitions: partitions}}
	raw, err := inspector.RawDevices(ctx)
	if err != nil {
		report.Warnings = append(report.Warnings, "raw devices unavailable: "+err.Error())
	}
	report.Disks.RawDevices = raw
	return render(report)
}
