//go:build unix

package rawscan

import "golang.org/x/sys/unix"

func checkPrivilege() error {
	if unix.Geteuid() != 0 {
		return ErrInsufficientPrivilege
	}
	return nil
}
