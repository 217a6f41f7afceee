package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/deadsector/pkg/deadsector/output"
	"github.com/jamesainslie/deadsector/pkg/deadsector/rawscan"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <device>",
	Short: "Read a block device end to end and report unreadable blocks",
	Long: `Scan reads a raw block device sequentially from offset zero and records
the offset of every block that fails to read. It never writes to the device.

Raw device access requires root. Failed offsets are also added to the
bad-region index (see 'deadsector regions') so repeated scans can be
compared.

Examples:
  sudo deadsector scan /dev/sdb
  sudo deadsector scan /dev/sdb --block-size 1M --limit 50G
  sudo deadsector scan /dev/nvme0n1 --direct -o json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags(map[string]string{"scan.block_size": "block-size", "scan.limit": "limit", "scan.direct": "direct", "metrics.textfile": "metrics-file"}),
	RunE:    runScan,
}

func init() {
	scanCmd.Flags().StringP("block-size", "b", "", "read unit, e.g. 64K or 1M (default from config)")
	scanCmd.Flags().StringP("limit", "l", "", "stop after this many bytes, e.g. 10G; 0 scans the whole device")
	scanCmd.Flags().Float64("limit-gb", 0, "stop after this many GiB (overrides --limit)")
	scanCmd.Flags().Bool("direct", false, "bypass the page cache (O_DIRECT)")
	scanCmd.Flags().String("metrics-file", "", "write node_exporter textfile metrics to this path")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sizes, err := cfg.Sizes()
	if err != nil {
		return err
	}

	limit := uint64(max(sizes.ScanLimit, 0))
	if cmd.Flags().Changed("limit-gb") {
		gb, _ := cmd.Flags().GetFloat64("limit-gb")
		limit = rawscan.LimitFromGB(gb, int(sizes.BlockSize))
	}

	device := args[0]
	printVerbose("Block size %s, limit %s, direct %t", types.FormatSize(sizes.BlockSize), types.FormatBytes(limit), cfg.Scan.Direct)

	ctx, stop := signalContext()
	defer stop()

	var result *types.ScanResult
	scanErr := runWithProgress(ctx, "Scanning "+device, func(ctx context.Context, onProgress func(types.Progress)) error {
		var err error
		result, err = rawscan.New(rawscan.Options{
			Device:           device,
			BlockSize:        int(sizes.BlockSize),
			Limit:            limit,
			Direct:           cfg.Scan.Direct,
			ProgressInterval: cfg.Scan.ProgressInterval,
			OnProgress:       onProgress,
		}).Scan(ctx)
		return err
	})
	if result == nil {
		if errors.Is(scanErr, rawscan.ErrInsufficientPrivilege) {
			return fmt.Errorf("%w: run deadsector with sudo", scanErr)
		}
		return fmt.Errorf("scan failed: %w", scanErr)
	}

	report := &output.Report{Scan: result, Warnings: recordScan(cfg, result)}
	if err := render(report); err != nil {
		return err
	}

	switch {
	case scanErr == nil:
		return nil
	case errors.Is(scanErr, context.Canceled):
		printInfo("Scan interrupted, partial result shown")
		return nil
	default:
		return fmt.Errorf("scan aborted: %w", scanErr)
	}
}

// bindFlags returns a PreRunE binding the named local flags to config keys.
// Binding happens when the command runs, so commands sharing a key (such
// as metrics.textfile) do not overwrite each other's binding.
func bindFlags(keys map[string]string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		for key, name := range keys {
			flag := cmd.Flags().Lookup(name)
			if flag == nil {
				return fmt.Errorf("unknown flag %q", name)
			}
			if err := viper.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("binding --%s: %w", name, err)
			}
		}
		return nil
	}
}
