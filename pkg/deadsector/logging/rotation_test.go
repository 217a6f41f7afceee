package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
)

func countLogs(t *testing.T, dir, prefix string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".log") {
			n++
		}
	}
	return n
}

func TestRotatingWriter_RotatesBySize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := logging.NewRotatingWriter(filepath.Join(dir, "scan.log"), logging.RotationConfig{MaxSize: 256})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}

	line := []byte(strings.Repeat("e", 63) + "\n")
	for range 20 {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := countLogs(t, dir, "scan"); n < 2 {
		t.Errorf("expected rotation, found %d log files", n)
	}
}

func TestRotatingWriter_MaxBackups(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := logging.NewRotatingWriter(filepath.Join(dir, "fill.log"), logging.RotationConfig{
		MaxSize:    64,
		MaxBackups: 2,
	})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}

	line := []byte(strings.Repeat("f", 60) + "\n")
	for range 10 {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Active file plus at most two backups.
	if n := countLogs(t, dir, "fill"); n > 3 {
		t.Errorf("expected at most 3 log files, found %d", n)
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	t.Parallel()

	w, err := logging.NewRotatingWriter(filepath.Join(t.TempDir(), "c.log"), logging.RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := w.Write([]byte("x")); err == nil {
		t.Error("Write() after Close() should fail")
	}
}
