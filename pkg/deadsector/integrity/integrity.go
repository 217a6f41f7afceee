// Package integrity reads files back in full to find the ones that landed
// on unreadable sectors.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var logger = logging.Get("integrity")

const (
	// DefaultChunkSize is the read unit.
	DefaultChunkSize = 1 << 20

	// DefaultProgressInterval spaces progress events for one file.
	DefaultProgressInterval = 2 * time.Second
)

// Options configures a Checker. Stat and Open default to the os package.
type Options struct {
	ChunkSize int

	Stat func(path string) (fs.FileInfo, error)
	Open func(path string) (io.ReadCloser, error)

	OnProgress       func(types.Progress)
	ProgressInterval time.Duration
	Now              func() time.Time
}

// Checker verifies files. It only reads.
type Checker struct {
	opts Options
}

// New creates a Checker.
func New(opts Options) *Checker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Stat == nil {
		opts.Stat = os.Stat
	}
	if opts.Open == nil {
		opts.Open = openUncached
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Checker{opts: opts}
}

// openUncached opens path for reading after asking the kernel to drop its
// cached pages. A file written moments ago would otherwise be read back
// from memory.
func openUncached(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if err := dropCache(f.Fd()); err != nil {
		logger.Debug("page cache not dropped", "path", path, "error", err)
	}
	return f, nil
}

// Verify reads path to the end and compares the byte count with the size
// reported by stat. Zero-byte files are healthy without being opened.
func (c *Checker) Verify(ctx context.Context, path string) types.IntegrityVerdict {
	return c.verify(ctx, path, 0, 0)
}

func (c *Checker) verify(ctx context.Context, path string, item, items int) types.IntegrityVerdict {
	v := types.IntegrityVerdict{Path: path}

	info, err := c.opts.Stat(path)
	if err != nil {
		v.Reason = types.VerdictStatFailed
		if errors.Is(err, fs.ErrNotExist) {
			v.Detail = "file not found"
		} else {
			v.Detail = fmt.Sprintf("error getting file size: %v", err)
		}
		logger.Warn("stat failed", "path", path, "error", err)
		return v
	}

	v.ExpectedBytes = info.Size()
	if v.ExpectedBytes == 0 {
		v.Healthy = true
		v.Reason = types.VerdictEmpty
		v.Detail = "file is zero bytes"
		return v
	}

	r, err := c.opts.Open(path)
	if err != nil {
		v.Reason = types.VerdictOpenFailed
		v.Detail = fmt.Sprintf("open error: %v", err)
		logger.Warn("open failed", "path", path, "error", err)
		return v
	}
	defer func() { _ = r.Close() }()

	start := c.opts.Now()
	lastEmit := start
	buf := make([]byte, c.opts.ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			v.Reason = types.VerdictCancelled
			v.Detail = "verification interrupted"
			return v
		}

		n, err := r.Read(buf)
		v.BytesRead += int64(n)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			v.Reason = types.VerdictReadError
			v.Detail = fmt.Sprintf("read error at offset %d: %v", v.BytesRead, err)
			logger.Warn("read failed", "path", path, "offset", v.BytesRead, "error", err)
			return v
		}

		if now := c.opts.Now(); c.opts.OnProgress != nil && now.Sub(lastEmit) >= c.opts.ProgressInterval {
			lastEmit = now
			c.opts.OnProgress(types.Progress{
				Phase:   types.PhaseVerify,
				Path:    path,
				Done:    uint64(v.BytesRead),
				Total:   uint64(v.ExpectedBytes),
				Item:    item,
				Items:   items,
				Elapsed: now.Sub(start),
			})
		}
	}

	if v.BytesRead != v.ExpectedBytes {
		v.Reason = types.VerdictReadMismatch
		v.Detail = fmt.Sprintf("read mismatch: read %d bytes, expected %d", v.BytesRead, v.ExpectedBytes)
		logger.Warn("size mismatch", "path", path, "read", v.BytesRead, "expected", v.ExpectedBytes)
		return v
	}

	v.Healthy = true
	v.Reason = types.VerdictOK
	v.Detail = "file read successfully"
	return v
}

// VerifyAll checks every path in order and splits them into healthy paths
// and bad files carrying the verdict detail. A cancelled context stops
// early; unchecked paths appear in neither list.
func (c *Checker) VerifyAll(ctx context.Context, paths []string) (healthy []string, bad []types.BadFile, verdicts []types.IntegrityVerdict) {
	healthy = []string{}
	bad = []types.BadFile{}
	for i, p := range paths {
		if ctx.Err() != nil {
			break
		}
		v := c.verify(ctx, p, i+1, len(paths))
		if v.Reason == types.VerdictCancelled {
			break
		}
		verdicts = append(verdicts, v)
		if v.Healthy {
			healthy = append(healthy, p)
		} else {
			bad = append(bad, types.BadFile{Path: p, Reason: v.Detail})
		}
		if c.opts.OnProgress != nil {
			c.opts.OnProgress(types.Progress{
				Phase:  types.PhaseVerify,
				Path:   p,
				Done:   uint64(v.BytesRead),
				Total:  uint64(v.ExpectedBytes),
				Item:   i + 1,
				Items:  len(paths),
				Errors: len(bad),
				Final:  i == len(paths)-1,
			})
		}
	}
	return healthy, bad, verdicts
}
