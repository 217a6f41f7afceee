//go:build !unix

package rawscan

import "errors"

// OpenDevice is not available without unix raw device semantics.
func OpenDevice(path string, _ bool) (Device, error) {
	return nil, errors.New("raw device scanning is only supported on unix systems")
}

func checkPrivilege() error {
	return ErrInsufficientPrivilege
}
