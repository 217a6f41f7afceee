package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/deadsector/pkg/deadsector/config"
	"github.com/jamesainslie/deadsector/pkg/deadsector/diskinfo"
	"github.com/jamesainslie/deadsector/pkg/deadsector/fill"
	"github.com/jamesainslie/deadsector/pkg/deadsector/isolate"
	"github.com/jamesainslie/deadsector/pkg/deadsector/output"
	"github.com/jamesainslie/deadsector/pkg/deadsector/quarantine"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var isolateCmd = &cobra.Command{
	Use:   "isolate <path>",
	Short: "Fill free space, read it back, and keep files that sit on bad sectors",
	Long: `Isolate fills a share of the free space of the filesystem holding <path>
with filler files, reads every file back, deletes the healthy ones and
keeps the unreadable ones in a quarantine directory at <path>.

While the retained files exist the filesystem cannot allocate the sectors
under them to new data. Review them with 'deadsector quarantine list'.

The run writes a lot of data. It asks for confirmation first unless --yes
is given.

Examples:
  deadsector isolate /mnt/data
  deadsector isolate /mnt/data --percent 95 --file-size 1G --yes`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags(map[string]string{"fill.file_size": "file-size", "fill.percentage": "percent", "metrics.textfile": "metrics-file"}),
	RunE:    runIsolate,
}

func init() {
	isolateCmd.Flags().String("file-size", "", "size of each filler file, e.g. 100M (default from config)")
	isolateCmd.Flags().IntP("percent", "p", 0, "share of free space to fill, 1-100 (default from config)")
	isolateCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	isolateCmd.Flags().String("metrics-file", "", "write node_exporter textfile metrics to this path")
	rootCmd.AddCommand(isolateCmd)
}

func runIsolate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sizes, err := cfg.Sizes()
	if err != nil {
		return err
	}

	target, err := resolveDir(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	inspector := diskinfo.New()
	usage, err := inspector.Usage(ctx, target)
	if err != nil {
		return err
	}
	planned := fill.Target(usage.FreeBytes, cfg.Fill.Percentage)

	yes, _ := cmd.Flags().GetBool("yes")
	ask := confirmer(yes)
	if ask == nil {
		return fmt.Errorf("%w: pass --yes to isolate without a terminal", quarantine.ErrConfirmationRequired)
	}
	prompt := fmt.Sprintf("Write %s of filler files to %s (%d%% of %s free)?",
		types.FormatBytes(planned), target, cfg.Fill.Percentage, types.FormatBytes(usage.FreeBytes))
	ok, err := ask(prompt)
	if err != nil {
		if errors.Is(err, ErrAborted) {
			printInfo("Aborted.")
			return nil
		}
		return err
	}
	if !ok {
		printInfo("Cancelled.")
		return nil
	}

	var report *types.IsolateReport
	runErr := runWithProgress(ctx, "Isolating bad sectors under "+target, func(ctx context.Context, onProgress func(types.Progress)) error {
		var err error
		report, err = isolate.Run(ctx, isolate.Options{
			FilesystemPath:       target,
			DirName:              cfg.Quarantine.DirName,
			FileSize:             sizes.FillerSize,
			Percentage:           cfg.Fill.Percentage,
			FillChunkSize:        int(sizes.FillChunk),
			MaxConsecutiveErrors: cfg.Fill.MaxConsecutiveErrors,
			VerifyChunkSize:      int(sizes.VerifyChunk),
			MaxRenameAttempts:    cfg.Quarantine.MaxRenameAttempts,
			Space:                inspector,
			OnProgress:           onProgress,
		})
		return err
	})
	if report == nil {
		return fmt.Errorf("isolation failed: %w", runErr)
	}

	if err := render(&output.Report{Isolate: report, Warnings: recordIsolate(cfg, report)}); err != nil {
		return err
	}

	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		printInfo("Isolation interrupted, filler files cleaned up")
	default:
		return runErr
	}

	if report.Process != nil && len(report.Process.Retained) > 0 {
		printInfo("Keep the files in %s to keep the bad sectors allocated.", report.QuarantineDir)
	}
	return nil
}

// resolveDir expands and absolutizes path and checks that it is a
// directory.
func resolveDir(path string) (string, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path does not exist: %s", abs)
		}
		return "", fmt.Errorf("cannot access path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", abs)
	}
	return abs, nil
}
