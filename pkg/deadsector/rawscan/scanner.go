package rawscan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unsafe"

	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var logger = logging.Get("rawscan")

// ErrInsufficientPrivilege is returned before any I/O when the process
// cannot open raw devices.
var ErrInsufficientPrivilege = errors.New("raw device access requires root privileges")

// ErrRecoverySeek is returned when the scanner cannot move past a failed
// block. The partial result is returned alongside it.
var ErrRecoverySeek = errors.New("cannot seek past failed block")

// Scanner performs a single sequential read pass.
type Scanner struct {
	opts Options

	start    time.Time
	lastEmit time.Time
}

// New creates a scanner. Options are checked when Scan runs.
func New(opts Options) *Scanner {
	return &Scanner{opts: opts}
}

// Scan reads the device from offset zero up to the planned byte count.
//
// Failed blocks are recorded and skipped. Open, privilege and size failures
// return no result. A failed recovery seek or a cancelled context returns
// the partial result together with the error.
func (s *Scanner) Scan(ctx context.Context) (*types.ScanResult, error) {
	if err := s.opts.normalize(); err != nil {
		return nil, err
	}
	if err := s.opts.CheckPrivilege(); err != nil {
		return nil, err
	}

	dev, err := s.opts.Open(s.opts.Device, s.opts.Direct)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.opts.Device, err)
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			logger.Warn("closing device failed", "device", s.opts.Device, "error", cerr)
		}
	}()

	size, err := deviceSize(dev)
	if err != nil {
		return nil, fmt.Errorf("determining size of %s: %w", s.opts.Device, err)
	}

	planned := size
	if s.opts.Limit > 0 && s.opts.Limit < planned {
		planned = s.opts.Limit
	}
	if s.opts.Direct {
		planned = alignDown(planned)
	}

	s.start = s.opts.Now()
	result := &types.ScanResult{
		Device:       s.opts.Device,
		DeviceSize:   size,
		BytesPlanned: planned,
		BlockSize:    s.opts.BlockSize,
		ErrorOffsets: []uint64{},
	}

	logger.Info("scan started",
		"device", s.opts.Device,
		"size", types.FormatBytes(size),
		"planned", types.FormatBytes(planned),
		"block_size", s.opts.BlockSize,
		"direct", s.opts.Direct)

	if planned == 0 {
		logger.Info("nothing to scan", "device", s.opts.Device)
		return s.finish(result), nil
	}

	err = s.readAll(ctx, dev, result)
	return s.finish(result), err
}

func (s *Scanner) readAll(ctx context.Context, dev Device, result *types.ScanResult) error {
	buf := s.buffer()
	block := uint64(s.opts.BlockSize)
	planned := result.BytesPlanned

	for result.BytesScanned < planned {
		if err := ctx.Err(); err != nil {
			result.Interrupted = true
			logger.Warn("scan interrupted", "device", s.opts.Device, "offset", result.BytesScanned)
			return err
		}

		offset := result.BytesScanned
		chunk := min(block, planned-offset)

		n, err := dev.Read(buf[:chunk])
		if err != nil && !errors.Is(err, io.EOF) {
			result.ErrorOffsets = append(result.ErrorOffsets, offset)
			logger.Warn("read failed", "device", s.opts.Device, "offset", offset, "error", err)

			next := offset + chunk
			if _, serr := dev.Seek(int64(next), io.SeekStart); serr != nil {
				result.Aborted = fmt.Sprintf("seek to %d failed: %v", next, serr)
				logger.Error("cannot continue past failed block", "device", s.opts.Device, "offset", next, "error", serr)
				return fmt.Errorf("%w at offset %d: %w", ErrRecoverySeek, next, serr)
			}
			result.BytesScanned = next
			s.emit(result, false)
			continue
		}

		if n == 0 {
			result.EndedEarly = true
			logger.Warn("unexpected end of device",
				"device", s.opts.Device,
				"offset", offset,
				"planned", planned)
			return nil
		}

		result.BytesScanned += uint64(n)
		s.emit(result, false)
	}
	return nil
}

// alignDown drops the unaligned tail of a direct I/O plan; O_DIRECT
// rejects reads whose length is not a multiple of directAlign.
func alignDown(planned uint64) uint64 {
	aligned := planned - planned%directAlign
	if aligned != planned {
		logger.Warn("direct I/O skips unaligned tail",
			"planned", planned,
			"aligned", aligned,
			"skipped", planned-aligned)
	}
	return aligned
}

func (s *Scanner) finish(result *types.ScanResult) *types.ScanResult {
	result.Elapsed = s.opts.Now().Sub(s.start)
	s.emit(result, true)
	logger.Info("scan finished",
		"device", s.opts.Device,
		"scanned", types.FormatBytes(result.BytesScanned),
		"errors", len(result.ErrorOffsets),
		"elapsed", result.Elapsed.Round(time.Millisecond))
	return result
}

// emit sends a progress event if the interval has passed since the last
// one. Final events are always sent.
func (s *Scanner) emit(result *types.ScanResult, final bool) {
	if s.opts.OnProgress == nil {
		return
	}
	now := s.opts.Now()
	if !final && !s.lastEmit.IsZero() && now.Sub(s.lastEmit) < s.opts.ProgressInterval {
		return
	}
	if !final && s.lastEmit.IsZero() && now.Sub(s.start) < s.opts.ProgressInterval {
		return
	}
	s.lastEmit = now
	s.opts.OnProgress(types.Progress{
		Phase:   types.PhaseScan,
		Path:    s.opts.Device,
		Done:    result.BytesScanned,
		Total:   result.BytesPlanned,
		Errors:  len(result.ErrorOffsets),
		Elapsed: now.Sub(s.start),
		Final:   final,
	})
}

// buffer returns a BlockSize slice, aligned for O_DIRECT when requested.
func (s *Scanner) buffer() []byte {
	if !s.opts.Direct {
		return make([]byte, s.opts.BlockSize)
	}
	raw := make([]byte, s.opts.BlockSize+directAlign)
	shift := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) & (directAlign - 1)); rem != 0 {
		shift = directAlign - rem
	}
	return raw[shift : shift+s.opts.BlockSize]
}
