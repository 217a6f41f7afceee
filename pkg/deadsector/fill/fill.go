// Package fill occupies a share of a filesystem's free space with filler
// files so that the allocator hands out every free block, including the
// ones on failing sectors.
package fill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/deadsector/pkg/deadsector/ioclass"
	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var logger = logging.Get("fill")

// Defaults applied when the corresponding option is zero.
const (
	DefaultChunkSize            = 1 << 20
	DefaultMaxConsecutiveErrors = 8
	DefaultProgressInterval     = time.Second
)

// SpaceQuerier reports free space for the filesystem holding a path.
type SpaceQuerier interface {
	Usage(ctx context.Context, path string) (types.SpaceUsage, error)
}

// FileCreator creates or truncates a filler file for writing.
type FileCreator func(path string) (io.WriteCloser, error)

// Options configures a fill.
type Options struct {
	// FilesystemPath is queried for free space.
	FilesystemPath string

	// QuarantineDir receives the filler files. It must exist.
	QuarantineDir string

	// FileSize is the size of each filler file. Must be positive.
	FileSize int64

	// Percentage of free space to occupy, 0..100.
	Percentage int

	// ChunkSize is the write unit.
	ChunkSize int

	// MaxConsecutiveErrors stops the loop after that many failed files in a
	// row. Negative disables the limit.
	MaxConsecutiveErrors int

	Space  SpaceQuerier
	Create FileCreator

	OnProgress       func(types.Progress)
	ProgressInterval time.Duration
	Now              func() time.Time
}

// Filler runs one fill.
type Filler struct {
	opts    Options
	pattern []byte

	start    time.Time
	lastEmit time.Time
}

// New creates a filler.
func New(opts Options) *Filler {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxConsecutiveErrors == 0 {
		opts.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Create == nil {
		opts.Create = createFile
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Filler{opts: opts}
}

// FillerName returns the file name of the n-th filler file, from 1.
func FillerName(n int) string {
	return fmt.Sprintf("filler_%04d.tmp", n)
}

// Fill writes filler files until the target is reached or the loop has
// to stop.
//
// Bad sizes or percentages come back as a single configuration entry in
// WriteErrors with a nil error. A failed free-space query is returned as
// an error. Cancellation returns the outcome so far with ctx.Err().
func (f *Filler) Fill(ctx context.Context) (*types.FillOutcome, error) {
	out := &types.FillOutcome{CreatedFiles: []string{}, WriteErrors: []types.WriteError{}}

	if reason := f.configProblem(); reason != "" {
		logger.Error("invalid fill configuration", "reason", reason)
		out.WriteErrors = append(out.WriteErrors, types.WriteError{
			Path:   "configuration",
			Reason: reason,
			Class:  types.ClassConfig,
		})
		out.Stop = types.StopConfig
		return out, nil
	}

	usage, err := f.opts.Space.Usage(ctx, f.opts.FilesystemPath)
	if err != nil {
		return nil, err
	}
	out.FreeBytes = usage.FreeBytes
	out.TargetBytes = Target(usage.FreeBytes, f.opts.Percentage)

	logger.Info("fill started",
		"filesystem", f.opts.FilesystemPath,
		"free", types.FormatBytes(out.FreeBytes),
		"target", types.FormatBytes(out.TargetBytes),
		"percentage", f.opts.Percentage,
		"file_size", types.FormatSize(f.opts.FileSize))

	if out.TargetBytes == 0 {
		logger.Info("nothing to fill", "filesystem", f.opts.FilesystemPath)
		out.Stop = types.StopNothingToWrite
		return out, nil
	}

	f.start = f.opts.Now()
	f.pattern = make([]byte, f.opts.ChunkSize)
	var seed [32]byte
	_, _ = rand.NewChaCha8(seed).Read(f.pattern)

	err = f.loop(ctx, out)
	f.emit(out, 0, true)

	logger.Info("fill finished",
		"written", types.FormatBytes(out.BytesWritten),
		"files", len(out.CreatedFiles),
		"errors", len(out.WriteErrors),
		"stop", out.Stop)
	return out, err
}

func (f *Filler) loop(ctx context.Context, out *types.FillOutcome) error {
	consecutive := 0
	for index := 1; out.BytesWritten < out.TargetBytes; index++ {
		if err := ctx.Err(); err != nil {
			out.Stop = types.StopCancelled
			return err
		}
		if f.opts.MaxConsecutiveErrors > 0 && consecutive >= f.opts.MaxConsecutiveErrors {
			logger.Error("too many consecutive write failures", "count", consecutive)
			out.Stop = types.StopTooManyErrors
			return nil
		}

		path := filepath.Join(f.opts.QuarantineDir, FillerName(index))
		size := min(uint64(f.opts.FileSize), out.TargetBytes-out.BytesWritten)

		err := f.writeFile(ctx, path, size, out)
		if err == nil {
			out.CreatedFiles = append(out.CreatedFiles, path)
			out.BytesWritten += size
			consecutive = 0
			logger.Debug("filler written", "path", path, "size", size)
			continue
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			out.WriteErrors = append(out.WriteErrors, types.WriteError{
				Path:   path,
				Reason: "interrupted before completion",
				Class:  types.ClassCancelled,
			})
			out.Stop = types.StopCancelled
			return err
		}

		class := ioclass.Classify(err)
		out.WriteErrors = append(out.WriteErrors, types.WriteError{Path: path, Reason: err.Error(), Class: class})

		switch class {
		case types.ClassDeviceFull:
			logger.Warn("filesystem full, stopping", "path", path, "error", err)
			out.Stop = types.StopDeviceFull
			return nil
		case types.ClassMedia:
			logger.Warn("filler write failed, continuing", "path", path, "error", err)
			consecutive++
		default:
			logger.Error("unexpected write failure, stopping", "path", path, "error", err)
			out.Stop = types.StopUnexpected
			return nil
		}
	}
	out.Stop = types.StopTargetReached
	return nil
}

type syncer interface {
	Sync() error
}

// writeFile writes size bytes to path, then syncs and closes it. Any
// failure, including on sync or close, fails the file.
func (f *Filler) writeFile(ctx context.Context, path string, size uint64, out *types.FillOutcome) error {
	w, err := f.opts.Create(path)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			_ = w.Close()
		}
	}()

	var written uint64
	for written < size {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := min(uint64(len(f.pattern)), size-written)
		n, err := w.Write(f.pattern[:chunk])
		written += uint64(n)
		if err != nil {
			return err
		}
		if uint64(n) < chunk {
			return fmt.Errorf("writing %s: %w", path, io.ErrShortWrite)
		}
		f.emit(out, written, false)
	}

	if s, ok := w.(syncer); ok {
		if err := s.Sync(); err != nil {
			return err
		}
	}
	closed = true
	return w.Close()
}

func (f *Filler) emit(out *types.FillOutcome, inFlight uint64, final bool) {
	if f.opts.OnProgress == nil {
		return
	}
	now := f.opts.Now()
	ref := f.lastEmit
	if ref.IsZero() {
		ref = f.start
	}
	if !final && now.Sub(ref) < f.opts.ProgressInterval {
		return
	}
	f.lastEmit = now
	f.opts.OnProgress(types.Progress{
		Phase:   types.PhaseFill,
		Path:    f.opts.QuarantineDir,
		Done:    out.BytesWritten + inFlight,
		Total:   out.TargetBytes,
		Errors:  len(out.WriteErrors),
		Elapsed: now.Sub(f.start),
		Final:   final,
	})
}

func (f *Filler) configProblem() string {
	switch {
	case f.opts.FileSize <= 0:
		return fmt.Sprintf("filler file size must be greater than zero, got %d", f.opts.FileSize)
	case f.opts.Percentage < 0 || f.opts.Percentage > 100:
		return fmt.Sprintf("fill percentage must be between 0 and 100, got %d", f.opts.Percentage)
	case f.opts.Space == nil:
		return "no free-space source configured"
	}
	return ""
}

// Target returns floor(free * pct / 100) without overflowing for any free.
func Target(free uint64, pct int) uint64 {
	if pct <= 0 {
		return 0
	}
	p := uint64(pct)
	return (free/100)*p + (free%100)*p/100
}

func createFile(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
}
