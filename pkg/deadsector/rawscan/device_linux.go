//go:build linux

package rawscan

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const directFlag = unix.O_DIRECT

func adviseSequential(fd int) {
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_SEQUENTIAL)
}

func ioctlSize(fd int) (uint64, bool) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, false
	}
	return size, true
}
