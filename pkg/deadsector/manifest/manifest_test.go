package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

func newTestManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := New(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") error = nil, want error")
	}
	m, err := New(t.TempDir())
	if err != nil || m == nil {
		t.Fatalf("New() = %v, %v", m, err)
	}
}

func TestManifest_LogScan(t *testing.T) {
	t.Parallel()
	m := newTestManifest(t)

	result := &types.ScanResult{
		Device:       "/dev/sdb",
		BytesPlanned: 1 << 30,
		BytesScanned: 1 << 30,
		BlockSize:    65536,
		ErrorOffsets: []uint64{65536, 1 << 20},
		Elapsed:      90 * time.Second,
	}
	entry, err := m.LogScan(result)
	if err != nil {
		t.Fatalf("LogScan() error = %v", err)
	}

	if !strings.HasPrefix(entry.ID, "scan-") {
		t.Errorf("ID = %q, want scan- prefix", entry.ID)
	}
	if entry.Summary.Errors != 2 || entry.Summary.Bytes != 1<<30 {
		t.Errorf("Summary = %+v", entry.Summary)
	}
	if entry.Summary.Interrupted {
		t.Error("complete scan marked interrupted")
	}

	got, err := m.Get(entry.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Target != "/dev/sdb" || len(got.ErrorOffsets) != 2 || got.ErrorOffsets[1] != 1<<20 {
		t.Errorf("round trip = %+v", got)
	}

	if _, err := os.Stat(filepath.Join(m.Dir(), entry.ID+".json.tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Error("temp file left behind")
	}
}

func TestManifest_LogIsolate(t *testing.T) {
	t.Parallel()
	m := newTestManifest(t)

	report := &types.IsolateReport{
		Filesystem: "/mnt/data",
		Fill: &types.FillOutcome{
			BytesWritten: 300 << 20,
			WriteErrors:  []types.WriteError{{Path: "/mnt/data/.quarantine_files/filler_0002.tmp", Reason: "eio"}},
		},
		Verdicts: []types.IntegrityVerdict{
			{Path: "a", Healthy: true},
			{Path: "b", Healthy: false},
		},
		Process: &types.ProcessOutcome{
			DeletedCount: 1,
			Retained: []types.RetainedEntry{
				{QuarantinePath: "x.quarantined.1.bad", Status: types.RetainedRenamed},
				{QuarantinePath: "y.quarantined.2.bad", Status: types.RetainedRenamed},
			},
		},
		Interrupted: true,
	}

	entry, err := m.LogIsolate(report)
	if err != nil {
		t.Fatalf("LogIsolate() error = %v", err)
	}
	s := entry.Summary
	if s.Bytes != 300<<20 || s.Errors != 2 || s.Retained != 2 || s.Deleted != 1 || !s.Interrupted {
		t.Errorf("Summary = %+v", s)
	}
	if entry.Operation != OpIsolate {
		t.Errorf("Operation = %q", entry.Operation)
	}
}

func TestManifest_LogDelete(t *testing.T) {
	t.Parallel()
	m := newTestManifest(t)

	entry, err := m.LogDelete("/mnt/data/.quarantine_files", []types.QuarantinedFile{
		{Path: "/q/a.bad", Size: 100},
		{Path: "/q/b.bad", Size: 50},
	})
	if err != nil {
		t.Fatalf("LogDelete() error = %v", err)
	}
	if entry.Summary.Deleted != 2 || entry.Summary.Bytes != 150 || len(entry.Deleted) != 2 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestManifest_ListNewestFirst(t *testing.T) {
	t.Parallel()
	m := newTestManifest(t)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		m.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		if _, err := m.LogScan(&types.ScanResult{Device: "/dev/sda", BytesScanned: uint64(i)}); err != nil {
			t.Fatalf("LogScan() error = %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(m.Dir(), "junk.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := m.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(all))
	}
	if all[0].Summary.Bytes != 2 || all[2].Summary.Bytes != 0 {
		t.Errorf("order = %d, %d, %d", all[0].Summary.Bytes, all[1].Summary.Bytes, all[2].Summary.Bytes)
	}

	limited, err := m.List(1)
	if err != nil {
		t.Fatalf("List(1) error = %v", err)
	}
	if len(limited) != 1 || limited[0].Summary.Bytes != 2 {
		t.Errorf("List(1) = %+v", limited)
	}
}

func TestManifest_ListMissingDir(t *testing.T) {
	t.Parallel()
	m := newTestManifest(t)

	entries, err := m.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List() = %v, want empty", entries)
	}
}

func TestManifest_Get(t *testing.T) {
	t.Parallel()
	m := newTestManifest(t)

	if _, err := m.Get("scan-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := m.Get("../etc/passwd"); err == nil {
		t.Error("Get(traversal) error = nil")
	}
	if _, err := m.Get(""); err == nil {
		t.Error("Get(\"\") error = nil")
	}
}

func TestManifest_Cleanup(t *testing.T) {
	t.Parallel()
	m := newTestManifest(t)

	old, err := m.LogScan(&types.ScanResult{Device: "/dev/sda"})
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := m.LogScan(&types.ScanResult{Device: "/dev/sdb"})
	if err != nil {
		t.Fatal(err)
	}

	past := time.Now().AddDate(0, 0, -40)
	if err := os.Chtimes(filepath.Join(m.Dir(), old.ID+".json"), past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := m.Cleanup(30)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if _, err := m.Get(old.ID); !errors.Is(err, ErrNotFound) {
		t.Error("old entry survived cleanup")
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Errorf("fresh entry removed: %v", err)
	}

	if n, err := m.Cleanup(0); err != nil || n != 0 {
		t.Errorf("Cleanup(0) = %d, %v", n, err)
	}
}
