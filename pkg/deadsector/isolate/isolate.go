// Package isolate runs the fill workflow over a filesystem: fill free space
// with filler files, read every one of them back, then delete the healthy
// ones and retain the bad ones.
package isolate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jamesainslie/deadsector/pkg/deadsector/fill"
	"github.com/jamesainslie/deadsector/pkg/deadsector/integrity"
	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/quarantine"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var logger = logging.Get("isolate")

// CreationFailurePrefix marks bad files that never finished being written.
const CreationFailurePrefix = "failed during creation: "

// ErrConfig is returned when the fill rejected its configuration.
var ErrConfig = errors.New("invalid fill configuration")

// Options configures one run. Zero values fall back to the defaults of the
// fill, integrity and quarantine packages.
type Options struct {
	// FilesystemPath is the mounted filesystem to work on.
	FilesystemPath string

	// DirName is the quarantine directory created under FilesystemPath.
	DirName string

	FileSize             int64
	Percentage           int
	FillChunkSize        int
	MaxConsecutiveErrors int
	VerifyChunkSize      int
	MaxRenameAttempts    int

	Space fill.SpaceQuerier

	// Create and Open replace the file system calls of the fill and verify
	// phases.
	Create fill.FileCreator
	Open   func(path string) (io.ReadCloser, error)

	OnProgress func(types.Progress)
	Now        func() time.Time
}

// Run executes fill, verify and process in order.
//
// A failed quarantine directory or free-space query fails the call with no
// report. A cancelled context skips the remaining verification: filler
// files not yet judged are deleted as healthy, bad files found so far are
// retained, and the partial report is returned with the context error.
func Run(ctx context.Context, opts Options) (*types.IsolateReport, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	start := now()

	dir, err := quarantine.Prepare(opts.FilesystemPath, opts.DirName)
	if err != nil {
		return nil, err
	}
	report := &types.IsolateReport{Filesystem: opts.FilesystemPath, QuarantineDir: dir}
	logger.Info("isolation started", "filesystem", opts.FilesystemPath, "quarantine", dir)

	filler := fill.New(fill.Options{
		FilesystemPath:       opts.FilesystemPath,
		QuarantineDir:        dir,
		FileSize:             opts.FileSize,
		Percentage:           opts.Percentage,
		ChunkSize:            opts.FillChunkSize,
		MaxConsecutiveErrors: opts.MaxConsecutiveErrors,
		Space:                opts.Space,
		Create:               opts.Create,
		OnProgress:           opts.OnProgress,
		Now:                  opts.Now,
	})
	filled, fillErr := filler.Fill(ctx)
	if filled == nil {
		return nil, fmt.Errorf("filling %s: %w", opts.FilesystemPath, fillErr)
	}
	report.Fill = filled
	if filled.Stop == types.StopConfig {
		report.Elapsed = now().Sub(start)
		return report, fmt.Errorf("%w: %s", ErrConfig, filled.WriteErrors[0].Reason)
	}

	healthy, bad := MergeCreationFailures(filled)

	interrupted := fillErr != nil
	if !interrupted {
		checker := integrity.New(integrity.Options{
			ChunkSize:  opts.VerifyChunkSize,
			Open:       opts.Open,
			OnProgress: opts.OnProgress,
			Now:        opts.Now,
		})
		good, failed, verdicts := checker.VerifyAll(ctx, filled.CreatedFiles)
		report.Verdicts = verdicts
		bad = append(bad, failed...)
		healthy = append(healthy, good...)
		// Files the checker never reached are treated as healthy.
		healthy = append(healthy, filled.CreatedFiles[len(verdicts):]...)
		interrupted = ctx.Err() != nil
	} else {
		healthy = append(healthy, filled.CreatedFiles...)
	}

	processCtx := ctx
	if interrupted {
		logger.Warn("isolation interrupted, cleaning up filler files", "healthy", len(healthy), "bad", len(bad))
		processCtx = context.WithoutCancel(ctx)
	}

	mgr := quarantine.New(dir, quarantine.Options{
		MaxRenameAttempts: opts.MaxRenameAttempts,
		OnProgress:        opts.OnProgress,
	})
	report.Process = mgr.Process(processCtx, healthy, bad)
	report.Elapsed = now().Sub(start)
	report.Interrupted = interrupted

	logger.Info("isolation finished",
		"filesystem", opts.FilesystemPath,
		"written", types.FormatBytes(filled.BytesWritten),
		"retained", len(report.Process.Retained),
		"deleted", report.Process.DeletedCount,
		"elapsed", report.Elapsed)

	if interrupted {
		return report, context.Cause(ctx)
	}
	return report, nil
}

// MergeCreationFailures splits the fill's write errors into files to
// retain, tagged with CreationFailurePrefix, and files interrupted by
// cancellation, which carry no media verdict and are returned as healthy.
// Configuration entries name no file and are skipped.
func MergeCreationFailures(out *types.FillOutcome) (healthy []string, bad []types.BadFile) {
	healthy = []string{}
	bad = []types.BadFile{}
	for _, we := range out.WriteErrors {
		switch we.Class {
		case types.ClassConfig:
			continue
		case types.ClassCancelled:
			healthy = append(healthy, we.Path)
		default:
			bad = append(bad, types.BadFile{Path: we.Path, Reason: CreationFailurePrefix + we.Reason})
		}
	}
	return healthy, bad
}
