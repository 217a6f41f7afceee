//go:build unix

package diskinfo

import (
	"os"

	"golang.org/x/sys/unix"
)

func isBlockDevice(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK, nil
}
