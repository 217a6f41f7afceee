// Package rawscan reads a block device sequentially from offset zero and
// records the offset of every block that fails to read. It never writes.
package rawscan

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

// DefaultBlockSize is the read unit used when Options.BlockSize is zero.
const DefaultBlockSize = 64 * 1024

// DefaultProgressInterval is the minimum spacing of progress events.
const DefaultProgressInterval = time.Second

// directAlign is the buffer and block alignment required for O_DIRECT.
const directAlign = 4096

// Options configures a raw scan.
type Options struct {
	// Device is the block device or image path.
	Device string

	// BlockSize is the read unit in bytes.
	BlockSize int

	// Limit caps the number of bytes scanned. Zero scans the whole device.
	Limit uint64

	// Direct opens the device with O_DIRECT so reads hit the media
	// instead of the page cache. BlockSize must be a multiple of 4096.
	Direct bool

	// ProgressInterval is the minimum time between progress events.
	ProgressInterval time.Duration

	// OnProgress receives throttled progress events plus one final event.
	OnProgress func(types.Progress)

	// Open replaces the default device opener. Used by tests to inject
	// read failures.
	Open Opener

	// CheckPrivilege replaces the effective-uid check.
	CheckPrivilege func() error

	// Now replaces time.Now for progress throttling.
	Now func() time.Time
}

// ErrInvalidOptions is returned for an unusable block size.
var ErrInvalidOptions = errors.New("invalid scan options")

func (o *Options) normalize() error {
	if o.Device == "" {
		return fmt.Errorf("%w: device path is required", ErrInvalidOptions)
	}
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.BlockSize < 0 {
		return fmt.Errorf("%w: block size %d", ErrInvalidOptions, o.BlockSize)
	}
	if o.Direct && o.BlockSize%directAlign != 0 {
		return fmt.Errorf("%w: direct I/O needs a block size that is a multiple of %d", ErrInvalidOptions, directAlign)
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.Open == nil {
		o.Open = OpenDevice
	}
	if o.CheckPrivilege == nil {
		o.CheckPrivilege = checkPrivilege
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

// LimitFromGB converts a limit in GiB to bytes. A positive limit too small
// to amount to a whole byte still scans one block.
func LimitFromGB(gb float64, blockSize int) uint64 {
	if gb <= 0 || math.IsNaN(gb) {
		return 0
	}
	limit := uint64(gb * float64(types.GiB))
	if limit == 0 {
		if blockSize <= 0 {
			blockSize = DefaultBlockSize
		}
		limit = uint64(blockSize)
	}
	return limit
}
