//go:build unix

package ioclass

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func isDeviceFull(errno syscall.Errno) bool {
	switch errno {
	case unix.ENOSPC, unix.EDQUOT, unix.EFBIG:
		return true
	}
	return false
}
