//go:build unix

package rawscan

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// blockDevice is an *os.File opened with synchronous flags.
type blockDevice struct {
	*os.File
}

// OpenDevice opens path read-only with O_SYNC, adding O_DIRECT when asked,
// and advises the kernel that access is sequential.
func OpenDevice(path string, direct bool) (Device, error) {
	flags := unix.O_RDONLY | unix.O_SYNC | unix.O_CLOEXEC
	if direct {
		flags |= directFlag
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	adviseSequential(fd)
	return &blockDevice{File: os.NewFile(uintptr(fd), path)}, nil
}

// Size seeks to the end, falling back to the block-device ioctl for
// devices that report zero.
func (d *blockDevice) Size() (uint64, error) {
	end, err := d.Seek(0, io.SeekEnd)
	if err == nil && end > 0 {
		return uint64(end), nil
	}
	if size, ok := ioctlSize(int(d.Fd())); ok {
		return size, nil
	}
	if err != nil {
		return 0, fmt.Errorf("seeking to end: %w", err)
	}
	return 0, nil
}
