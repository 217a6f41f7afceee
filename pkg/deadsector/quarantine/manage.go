package quarantine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

// List returns the regular files in the quarantine directory sorted by
// name. A missing directory lists as empty.
func (m *Manager) List() ([]types.QuarantinedFile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []types.QuarantinedFile{}, nil
		}
		return nil, fmt.Errorf("reading quarantine directory: %w", err)
	}

	files := make([]types.QuarantinedFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		f := types.QuarantinedFile{
			Name:    e.Name(),
			Path:    filepath.Join(m.dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if stem, suffix, ok := ParseRetainedName(e.Name()); ok {
			f.Retained, f.Stem, f.Suffix = true, stem, suffix
		}
		files = append(files, f)
	}
	return files, nil
}

// Delete removes one entry by base name after confirm agrees.
func (m *Manager) Delete(name string, confirm Confirmer) error {
	if !isBaseName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(m.dir, name)

	info, err := m.opts.Lstat(path)
	if err != nil {
		return fmt.Errorf("quarantine entry %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %q is not a regular file", ErrInvalidName, name)
	}

	if err := ask(confirm, fmt.Sprintf("Permanently delete %s (%s)?", path, types.FormatSize(info.Size()))); err != nil {
		return err
	}

	if err := m.opts.Remove(path); err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	logger.Info("quarantine entry deleted", "path", path)
	return nil
}

// DeleteAll removes every listed entry after a single confirmation and
// returns how many were deleted. Individual failures do not stop the rest;
// they are joined into the returned error.
func (m *Manager) DeleteAll(confirm Confirmer) (int, error) {
	files, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, nil
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	prompt := fmt.Sprintf("Permanently delete all %d files (%s) in %s?", len(files), types.FormatSize(total), m.dir)
	if err := ask(confirm, prompt); err != nil {
		return 0, err
	}

	deleted := 0
	var errs []error
	for _, f := range files {
		if err := m.opts.Remove(f.Path); err != nil {
			logger.Warn("failed to delete quarantine entry", "path", f.Path, "error", err)
			errs = append(errs, fmt.Errorf("deleting %s: %w", f.Path, err))
			continue
		}
		deleted++
	}
	logger.Info("quarantine cleared", "dir", m.dir, "deleted", deleted, "failed", len(errs))
	return deleted, errors.Join(errs...)
}

func ask(confirm Confirmer, prompt string) error {
	if confirm == nil {
		return ErrConfirmationRequired
	}
	ok, err := confirm(prompt)
	if err != nil {
		return fmt.Errorf("confirmation: %w", err)
	}
	if !ok {
		return ErrDeclined
	}
	return nil
}
