// Package quarantine disposes of verified filler files: healthy ones are
// deleted, bad ones are renamed into retained entries that keep their
// sectors allocated.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var logger = logging.Get("quarantine")

const (
	// DefaultDirName is created under the target filesystem path.
	DefaultDirName = ".quarantine_files"

	// DefaultMaxRenameAttempts bounds the search for an unused retained name.
	DefaultMaxRenameAttempts = 100

	retainedMarker = ".quarantined."
	retainedExt    = ".bad"
)

var (
	// ErrNamesExhausted means every generated retained name was taken.
	ErrNamesExhausted = errors.New("no unused quarantine name found")

	// ErrConfirmationRequired is returned by deletions called without a
	// Confirmer.
	ErrConfirmationRequired = errors.New("deletion requires confirmation")

	// ErrDeclined is returned when the Confirmer said no.
	ErrDeclined = errors.New("deletion declined")

	// ErrInvalidName rejects entry names that are not plain base names.
	ErrInvalidName = errors.New("invalid quarantine entry name")
)

// Confirmer is asked before anything in the quarantine directory is
// deleted on request. It returns false to decline.
type Confirmer func(prompt string) (bool, error)

// Options configures a Manager. The file system hooks default to the os
// package.
type Options struct {
	MaxRenameAttempts int

	// Suffix returns a fresh random suffix for a retained name.
	Suffix func() string

	Lstat  func(path string) (fs.FileInfo, error)
	Rename func(oldpath, newpath string) error
	Remove func(path string) error

	OnProgress func(types.Progress)
}

// Manager owns one quarantine directory.
type Manager struct {
	dir  string
	opts Options
}

// New returns a Manager for dir. The directory is not created; see Prepare.
func New(dir string, opts Options) *Manager {
	if opts.MaxRenameAttempts <= 0 {
		opts.MaxRenameAttempts = DefaultMaxRenameAttempts
	}
	if opts.Suffix == nil {
		opts.Suffix = randomSuffix
	}
	if opts.Lstat == nil {
		opts.Lstat = os.Lstat
	}
	if opts.Rename == nil {
		opts.Rename = os.Rename
	}
	if opts.Remove == nil {
		opts.Remove = os.Remove
	}
	return &Manager{dir: dir, opts: opts}
}

// Dir returns the managed directory.
func (m *Manager) Dir() string { return m.dir }

// Prepare creates the quarantine directory under target and returns its
// path. An empty name selects DefaultDirName. Calling it again is a no-op.
func Prepare(target, name string) (string, error) {
	if name == "" {
		name = DefaultDirName
	}
	if !isBaseName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dir := filepath.Join(target, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating quarantine directory: %w", err)
	}
	return dir, nil
}

// Process deletes the healthy files and retains the bad ones.
//
// Delete failures are recorded and never retried. A bad file that cannot be
// renamed stays where it is and is reported with a degraded status. A
// cancelled context stops between files and leaves the rest untouched.
func (m *Manager) Process(ctx context.Context, healthy []string, bad []types.BadFile) *types.ProcessOutcome {
	out := &types.ProcessOutcome{Retained: []types.RetainedEntry{}}
	total := len(healthy) + len(bad)
	done := 0

	for _, path := range healthy {
		if ctx.Err() != nil {
			logger.Warn("processing interrupted", "remaining", total-done)
			return out
		}
		if err := m.opts.Remove(path); err != nil {
			logger.Warn("failed to delete healthy filler", "path", path, "error", err)
			out.DeleteErrors = append(out.DeleteErrors, types.WriteError{Path: path, Reason: err.Error()})
		} else {
			out.DeletedCount++
		}
		done++
		m.emit(path, done, total, len(out.DeleteErrors))
	}

	for _, b := range bad {
		if ctx.Err() != nil {
			logger.Warn("processing interrupted", "remaining", total-done)
			return out
		}
		entry := m.retain(b)
		out.Retained = append(out.Retained, entry)
		done++
		m.emit(b.Path, done, total, len(out.DeleteErrors))
	}

	logger.Info("quarantine processed",
		"dir", m.dir,
		"deleted", out.DeletedCount,
		"retained", len(out.Retained),
		"delete_errors", len(out.DeleteErrors))
	return out
}

func (m *Manager) retain(b types.BadFile) types.RetainedEntry {
	entry := types.RetainedEntry{
		QuarantinePath: b.Path,
		OriginalPath:   b.Path,
		Reason:         b.Reason,
	}

	if _, err := m.opts.Lstat(b.Path); err != nil {
		entry.Status = types.RetainedSourceMissing
		entry.Reason = fmt.Sprintf("original error: %s; file was not found for rename", b.Reason)
		logger.Warn("bad file missing, nothing to rename", "path", b.Path)
		return entry
	}

	target, err := m.uniqueName(b.Path)
	if errors.Is(err, ErrNamesExhausted) {
		entry.Status = types.RetainedNamesExhausted
		entry.Reason = fmt.Sprintf("original error: %s; %v", b.Reason, err)
		logger.Error("could not find a quarantine name", "path", b.Path, "attempts", m.opts.MaxRenameAttempts, "error", err)
		return entry
	}
	if err != nil {
		entry.Status = types.RetainedRenameFailed
		entry.Reason = fmt.Sprintf("original error: %s; rename failed: %v", b.Reason, err)
		logger.Error("could not check quarantine name", "path", b.Path, "error", err)
		return entry
	}

	if err := m.opts.Rename(b.Path, target); err != nil {
		entry.Status = types.RetainedRenameFailed
		entry.Reason = fmt.Sprintf("original error: %s; rename failed: %v", b.Reason, err)
		logger.Error("rename into quarantine failed", "path", b.Path, "target", target, "error", err)
		return entry
	}

	entry.QuarantinePath = target
	entry.Status = types.RetainedRenamed
	logger.Info("bad file retained", "path", target, "reason", b.Reason)
	return entry
}

// uniqueName tries up to MaxRenameAttempts suffixes for an unused
// <stem>.quarantined.<suffix>.bad name in the managed directory.
func (m *Manager) uniqueName(path string) (string, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	for range m.opts.MaxRenameAttempts {
		candidate := filepath.Join(m.dir, RetainedName(stem, m.opts.Suffix()))
		_, err := m.opts.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", candidate, err)
		}
		logger.Debug("quarantine name collision", "candidate", candidate)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrNamesExhausted, m.opts.MaxRenameAttempts)
}

func (m *Manager) emit(path string, done, total, errs int) {
	if m.opts.OnProgress == nil {
		return
	}
	m.opts.OnProgress(types.Progress{
		Phase:  types.PhaseProcess,
		Path:   path,
		Done:   uint64(done),
		Total:  uint64(total),
		Item:   done,
		Items:  total,
		Errors: errs,
		Final:  done == total,
	})
}

// RetainedName builds the retained file name for stem and suffix.
func RetainedName(stem, suffix string) string {
	return stem + retainedMarker + suffix + retainedExt
}

// ParseRetainedName splits a retained file name into stem and suffix.
func ParseRetainedName(name string) (stem, suffix string, ok bool) {
	rest, found := strings.CutSuffix(name, retainedExt)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, retainedMarker)
	if i <= 0 {
		return "", "", false
	}
	stem, suffix = rest[:i], rest[i+len(retainedMarker):]
	if suffix == "" {
		return "", "", false
	}
	return stem, suffix, true
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func isBaseName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
