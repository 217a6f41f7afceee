package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var logger = logging.Get("manifest")

// ErrNotFound is returned by Get for an unknown ID.
var ErrNotFound = errors.New("history entry not found")

// Manifest stores entries as one JSON file each in a directory.
type Manifest struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// New creates a Manifest rooted at dir. The directory is created on the
// first write.
func New(dir string) (*Manifest, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &Manifest{dir: dir, now: time.Now}, nil
}

// Dir returns the history directory.
func (m *Manifest) Dir() string { return m.dir }

// LogScan records a raw scan.
func (m *Manifest) LogScan(r *types.ScanResult) (*Entry, error) {
	return m.log(&Entry{
		Operation: OpScan,
		Target:    r.Device,
		Summary: Summary{
			Bytes:       r.BytesScanned,
			Errors:      len(r.ErrorOffsets),
			Elapsed:     r.Elapsed,
			Interrupted: r.Interrupted || r.Aborted != "",
		},
		ErrorOffsets: r.ErrorOffsets,
	})
}

// LogIsolate records a fill, verify and quarantine run.
func (m *Manifest) LogIsolate(r *types.IsolateReport) (*Entry, error) {
	e := &Entry{
		Operation: OpIsolate,
		Target:    r.Filesystem,
		Summary:   Summary{Elapsed: r.Elapsed, Interrupted: r.Interrupted},
	}
	if r.Fill != nil {
		e.Summary.Bytes = r.Fill.BytesWritten
		e.Summary.Errors = len(r.Fill.WriteErrors)
	}
	for _, v := range r.Verdicts {
		if !v.Healthy {
			e.Summary.Errors++
		}
	}
	if r.Process != nil {
		e.Retained = r.Process.Retained
		e.Summary.Retained = len(r.Process.Retained)
		e.Summary.Deleted = r.Process.DeletedCount
	}
	return m.log(e)
}

// LogDelete records quarantine entries removed on request.
func (m *Manifest) LogDelete(dir string, files []types.QuarantinedFile) (*Entry, error) {
	e := &Entry{Operation: OpDelete, Target: dir}
	for _, f := range files {
		e.Deleted = append(e.Deleted, f.Path)
		e.Summary.Bytes += uint64(max(f.Size, 0))
	}
	e.Summary.Deleted = len(files)
	return m.log(e)
}

func (m *Manifest) log(e *Entry) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.Timestamp = m.now().UTC()
	e.ID = generateID(e.Operation, e.Timestamp)

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	if err := m.writeEntry(e); err != nil {
		return nil, fmt.Errorf("writing history entry: %w", err)
	}
	logger.Debug("history entry written", "id", e.ID, "operation", e.Operation)
	return e, nil
}

// writeEntry writes through a temp file and a rename so readers never see
// a partial entry.
func (m *Manifest) writeEntry(e *Entry) error {
	path := filepath.Join(m.dir, e.ID+".json")

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// List returns entries newest first. A limit of zero or less returns all.
func (m *Manifest) List(limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.readAll()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get returns the entry with the given ID.
func (m *Manifest) Get(id string) (*Entry, error) {
	if id == "" || filepath.Base(id) != id {
		return nil, fmt.Errorf("invalid history id %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.readFile(id + ".json")
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// Cleanup removes entries older than retentionDays and returns how many
// were removed. A retention of zero or less keeps everything.
func (m *Manifest) Cleanup(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().AddDate(0, 0, -retentionDays)
	files, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading history directory: %w", err)
	}

	removed := 0
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		info, err := f.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, f.Name())); err != nil {
			logger.Warn("failed to remove old history entry", "file", f.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (m *Manifest) readAll() ([]Entry, error) {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("reading history directory: %w", err)
	}

	entries := []Entry{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		e, err := m.readFile(f.Name())
		if err != nil {
			logger.Debug("skipping unreadable history entry", "file", f.Name(), "error", err)
			continue
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

func (m *Manifest) readFile(name string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return &e, nil
}

// generateID returns an ID like "scan-2026-06-15T10-30-00-1a2b3c4d5e6f".
func generateID(op OperationType, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%s-%s", op, at.Format("2006-01-02T15-04-05"), suffix)
}
