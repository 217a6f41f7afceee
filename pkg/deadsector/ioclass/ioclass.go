// Package ioclass decides how an I/O failure should be treated.
//
// Every place that needs to tell "the filesystem is full" apart from "this
// one file or block is bad" apart from "something we did not anticipate"
// goes through Classify, so the policy lives in one place.
package ioclass

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

// Classify maps an error to the class that decides the caller's next step.
//
// OS errors are judged by errno: the device-full set stops a fill, any other
// errno is treated as a failure local to the file or block at hand. Errors
// that carry no errno fall back to message matching and are otherwise
// unexpected.
func Classify(err error) types.ErrorClass {
	if err == nil {
		return types.ClassNone
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if isDeviceFull(errno) {
			return types.ClassDeviceFull
		}
		return types.ClassMedia
	}

	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
		return types.ClassMedia
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		if c := classifyMessage(pathErr.Err.Error()); c != types.ClassNone {
			return c
		}
		return types.ClassMedia
	}

	if c := classifyMessage(err.Error()); c != types.ClassNone {
		return c
	}
	return types.ClassUnexpected
}

// IsDeviceFull reports whether err means the filesystem has no room left.
func IsDeviceFull(err error) bool {
	return Classify(err) == types.ClassDeviceFull
}

// IsPermission reports whether err is an access failure.
func IsPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

// IsNotExist reports whether err means the path is gone.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// classifyMessage is the last-resort match for wrapped errors that lost
// their errno, e.g. ones re-created from a remote or subprocess message.
func classifyMessage(msg string) types.ErrorClass {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "no space left on device"),
		strings.Contains(msg, "disk quota exceeded"),
		strings.Contains(msg, "file too large"):
		return types.ClassDeviceFull
	case strings.Contains(msg, "input/output error"),
		strings.Contains(msg, "read-only file system"):
		return types.ClassMedia
	}
	return types.ClassNone
}
