//go:build !unix

package ioclass

import "syscall"

func isDeviceFull(errno syscall.Errno) bool {
	return errno == syscall.ENOSPC
}
