package rawscan

import (
	"fmt"
	"io"
)

// Device is an open raw device positioned for sequential reads.
type Device interface {
	io.Reader
	io.Seeker
	io.Closer
}

// Opener opens a device read-only.
type Opener func(path string, direct bool) (Device, error)

// sizer is implemented by devices that know their size without seeking.
type sizer interface {
	Size() (uint64, error)
}

// deviceSize reports the device size and leaves the cursor at offset zero.
func deviceSize(dev Device) (uint64, error) {
	if sz, ok := dev.(sizer); ok {
		size, err := sz.Size()
		if err != nil {
			return 0, err
		}
		if _, err := dev.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("rewinding: %w", err)
		}
		return size, nil
	}

	end, err := dev.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seeking to end: %w", err)
	}
	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding: %w", err)
	}
	if end < 0 {
		return 0, fmt.Errorf("negative device size %d", end)
	}
	return uint64(end), nil
}
