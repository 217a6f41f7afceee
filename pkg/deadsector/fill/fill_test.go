package fill

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

const mib = 1 << 20

type fixedSpace struct {
	free uint64
	err  error
}

func (s fixedSpace) Usage(_ context.Context, path string) (types.SpaceUsage, error) {
	if s.err != nil {
		return types.SpaceUsage{}, s.err
	}
	return types.SpaceUsage{Path: path, FreeBytes: s.free, TotalBytes: s.free * 2}, nil
}

// memFile counts bytes and fails once limit bytes are written.
type memFile struct {
	fs       *memFS
	path     string
	written  int
	failAt   int
	failWith error
}

func (m *memFile) Write(p []byte) (int, error) {
	if m.failWith != nil && m.written+len(p) > m.failAt {
		n := max(m.failAt-m.written, 0)
		m.written += n
		return n, &fs.PathError{Op: "write", Path: m.path, Err: m.failWith}
	}
	m.written += len(p)
	return len(p), nil
}

func (m *memFile) Close() error {
	m.fs.sizes[m.path] = m.written
	return nil
}

// memFS records files by name. Failures are keyed by file name.
type memFS struct {
	sizes       map[string]int
	created     []string
	createErr   map[string]error
	writeErr    map[string]error
	writeFailAt map[string]int
	cancelAfter int
	cancel      context.CancelFunc
}

func newMemFS() *memFS {
	return &memFS{
		sizes:       map[string]int{},
		createErr:   map[string]error{},
		writeErr:    map[string]error{},
		writeFailAt: map[string]int{},
	}
}

func (m *memFS) create(path string) (io.WriteCloser, error) {
	name := filepath.Base(path)
	m.created = append(m.created, name)
	if m.cancel != nil && len(m.created) == m.cancelAfter {
		m.cancel()
	}
	if err := m.createErr[name]; err != nil {
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	return &memFile{fs: m, path: path, failAt: m.writeFailAt[name], failWith: m.writeErr[name]}, nil
}

func run(t *testing.T, m *memFS, opts Options) (*types.FillOutcome, error) {
	t.Helper()
	opts.FilesystemPath = "/mnt/data"
	opts.QuarantineDir = "/mnt/data/.quarantine_files"
	opts.Create = m.create
	return New(opts).Fill(context.Background())
}

func names(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func TestFill_ReachesTarget(t *testing.T) {
	m := newMemFS()
	out, err := run(t, m, Options{
		FileSize:   4 * mib,
		Percentage: 50,
		Space:      fixedSpace{free: 20 * mib},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(10*mib), out.TargetBytes)
	assert.Equal(t, []string{"filler_0001.tmp", "filler_0002.tmp", "filler_0003.tmp"}, names(out.CreatedFiles))
	assert.Empty(t, out.WriteErrors)
	assert.Equal(t, out.TargetBytes, out.BytesWritten)
	assert.Equal(t, types.StopTargetReached, out.Stop)

	// Last file is trimmed to the remainder.
	assert.Equal(t, 2*mib, m.sizes["/mnt/data/.quarantine_files/filler_0003.tmp"])
}

func TestFill_SingleFileForSmallTarget(t *testing.T) {
	m := newMemFS()
	out, err := run(t, m, Options{
		FileSize:   100 * mib,
		Percentage: 80,
		Space:      fixedSpace{free: 1000},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(800), out.TargetBytes)
	assert.Equal(t, []string{"filler_0001.tmp"}, names(out.CreatedFiles))
	assert.Equal(t, 800, m.sizes["/mnt/data/.quarantine_files/filler_0001.tmp"])
}

func TestFill_ZeroFileSizeIsConfigError(t *testing.T) {
	m := newMemFS()
	out, err := run(t, m, Options{FileSize: 0, Percentage: 80, Space: fixedSpace{free: 10 * mib}})
	require.NoError(t, err)

	require.Len(t, out.WriteErrors, 1)
	assert.Equal(t, types.ClassConfig, out.WriteErrors[0].Class)
	assert.Empty(t, out.CreatedFiles)
	assert.Empty(t, m.created)
	assert.Equal(t, types.StopConfig, out.Stop)
}

func TestFill_PercentageOutOfRangeIsConfigError(t *testing.T) {
	for _, pct := range []int{-1, 101} {
		out, err := run(t, newMemFS(), Options{FileSize: mib, Percentage: pct, Space: fixedSpace{free: mib}})
		require.NoError(t, err)
		require.Len(t, out.WriteErrors, 1)
		assert.Equal(t, types.ClassConfig, out.WriteErrors[0].Class)
	}
}

func TestFill_ZeroTarget(t *testing.T) {
	tests := []struct {
		name string
		free uint64
		pct  int
	}{
		{name: "zero percent", free: 10 * mib, pct: 0},
		{name: "no free space", free: 0, pct: 80},
		{name: "rounds down to zero", free: 1, pct: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMemFS()
			out, err := run(t, m, Options{FileSize: mib, Percentage: tt.pct, Space: fixedSpace{free: tt.free}})
			require.NoError(t, err)
			assert.Empty(t, out.CreatedFiles)
			assert.Empty(t, out.WriteErrors)
			assert.Empty(t, m.created)
			assert.Equal(t, types.StopNothingToWrite, out.Stop)
		})
	}
}

func TestFill_SpaceQueryFailure(t *testing.T) {
	out, err := run(t, newMemFS(), Options{FileSize: mib, Percentage: 80, Space: fixedSpace{err: errors.New("statfs failed")}})
	assert.Nil(t, out)
	assert.Error(t, err)
}

func TestFill_DeviceFullStops(t *testing.T) {
	m := newMemFS()
	m.writeErr["filler_0003.tmp"] = syscall.ENOSPC
	m.writeFailAt["filler_0003.tmp"] = mib / 2

	out, err := run(t, m, Options{FileSize: mib, Percentage: 100, Space: fixedSpace{free: 10 * mib}})
	require.NoError(t, err)

	assert.Equal(t, []string{"filler_0001.tmp", "filler_0002.tmp"}, names(out.CreatedFiles))
	require.Len(t, out.WriteErrors, 1)
	assert.Equal(t, "filler_0003.tmp", filepath.Base(out.WriteErrors[0].Path))
	assert.Equal(t, types.ClassDeviceFull, out.WriteErrors[0].Class)
	assert.Equal(t, types.StopDeviceFull, out.Stop)
	assert.Len(t, m.created, 3)
	assert.Equal(t, uint64(2*mib), out.BytesWritten)
}

func TestFill_MediaErrorContinues(t *testing.T) {
	m := newMemFS()
	m.writeErr["filler_0002.tmp"] = syscall.EIO
	m.writeFailAt["filler_0002.tmp"] = 100

	out, err := run(t, m, Options{FileSize: mib, Percentage: 100, Space: fixedSpace{free: 3 * mib}})
	require.NoError(t, err)

	assert.Equal(t, []string{"filler_0001.tmp", "filler_0003.tmp", "filler_0004.tmp"}, names(out.CreatedFiles))
	require.Len(t, out.WriteErrors, 1)
	assert.Equal(t, "filler_0002.tmp", filepath.Base(out.WriteErrors[0].Path))
	assert.Equal(t, types.ClassMedia, out.WriteErrors[0].Class)
	assert.Contains(t, out.WriteErrors[0].Reason, "input/output error")
	assert.Equal(t, types.StopTargetReached, out.Stop)
}

func TestFill_CreateErrorContinues(t *testing.T) {
	m := newMemFS()
	m.createErr["filler_0001.tmp"] = syscall.EIO

	out, err := run(t, m, Options{FileSize: mib, Percentage: 100, Space: fixedSpace{free: mib}})
	require.NoError(t, err)

	assert.Equal(t, []string{"filler_0002.tmp"}, names(out.CreatedFiles))
	require.Len(t, out.WriteErrors, 1)
	assert.Equal(t, "filler_0001.tmp", filepath.Base(out.WriteErrors[0].Path))
}

func TestFill_UnexpectedErrorAborts(t *testing.T) {
	m := newMemFS()
	m.writeErr["filler_0001.tmp"] = nil
	failing := func(path string) (io.WriteCloser, error) {
		if filepath.Base(path) == "filler_0002.tmp" {
			return nil, errors.New("codec exploded")
		}
		return m.create(path)
	}

	out, err := New(Options{
		FilesystemPath: "/mnt/data",
		QuarantineDir:  "/mnt/data/.quarantine_files",
		FileSize:       mib,
		Percentage:     100,
		Space:          fixedSpace{free: 5 * mib},
		Create:         failing,
	}).Fill(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"filler_0001.tmp"}, names(out.CreatedFiles))
	require.Len(t, out.WriteErrors, 1)
	assert.Equal(t, types.ClassUnexpected, out.WriteErrors[0].Class)
	assert.Equal(t, types.StopUnexpected, out.Stop)
}

func TestFill_TooManyConsecutiveErrors(t *testing.T) {
	always := func(path string) (io.WriteCloser, error) {
		return nil, &fs.PathError{Op: "open", Path: path, Err: syscall.EIO}
	}

	out, err := New(Options{
		FilesystemPath:       "/mnt/data",
		QuarantineDir:        "/q",
		FileSize:             mib,
		Percentage:           100,
		MaxConsecutiveErrors: 3,
		Space:                fixedSpace{free: 10 * mib},
		Create:               always,
	}).Fill(context.Background())
	require.NoError(t, err)

	assert.Len(t, out.WriteErrors, 3)
	assert.Empty(t, out.CreatedFiles)
	assert.Equal(t, types.StopTooManyErrors, out.Stop)
}

func TestFill_PathsAreDisjoint(t *testing.T) {
	m := newMemFS()
	m.writeErr["filler_0002.tmp"] = syscall.EIO
	m.writeFailAt["filler_0002.tmp"] = 1
	m.writeErr["filler_0004.tmp"] = syscall.EROFS

	out, err := run(t, m, Options{FileSize: mib, Percentage: 100, Space: fixedSpace{free: 4 * mib}})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, p := range out.CreatedFiles {
		seen[p] = true
	}
	for _, we := range out.WriteErrors {
		assert.False(t, seen[we.Path], "%s in both lists", we.Path)
	}
	assert.Equal(t, out.TargetBytes, out.BytesWritten)
}

func TestFill_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := newMemFS()
	m.cancel = cancel
	m.cancelAfter = 2

	out, err := New(Options{
		FilesystemPath: "/mnt/data",
		QuarantineDir:  "/q",
		FileSize:       mib,
		Percentage:     100,
		Space:          fixedSpace{free: 5 * mib},
		Create:         m.create,
	}).Fill(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, out)
	assert.Equal(t, types.StopCancelled, out.Stop)
	assert.Equal(t, []string{"filler_0001.tmp"}, names(out.CreatedFiles))
	require.Len(t, out.WriteErrors, 1)
	assert.Equal(t, types.ClassCancelled, out.WriteErrors[0].Class)
}

func TestFill_Progress(t *testing.T) {
	var events []types.Progress
	out, err := New(Options{
		FilesystemPath:   "/mnt/data",
		QuarantineDir:    "/q",
		FileSize:         mib,
		Percentage:       100,
		ChunkSize:        64 * 1024,
		ProgressInterval: 1,
		Space:            fixedSpace{free: 2 * mib},
		Create:           newMemFS().create,
		OnProgress:       func(p types.Progress) { events = append(events, p) },
	}).Fill(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Final)
	assert.Equal(t, out.BytesWritten, last.Done)
	assert.Equal(t, types.PhaseFill, last.Phase)
}

func TestFill_RealFiles(t *testing.T) {
	dir := t.TempDir()
	out, err := New(Options{
		FilesystemPath: dir,
		QuarantineDir:  dir,
		FileSize:       300 * 1024,
		Percentage:     100,
		ChunkSize:      128 * 1024,
		Space:          fixedSpace{free: 700 * 1024},
	}).Fill(context.Background())
	require.NoError(t, err)

	require.Len(t, out.CreatedFiles, 3)
	sizes := []int64{300 * 1024, 300 * 1024, 100 * 1024}
	for i, p := range out.CreatedFiles {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, sizes[i], info.Size())
	}
}

func TestTarget(t *testing.T) {
	assert.Equal(t, uint64(80), Target(100, 80))
	assert.Equal(t, uint64(0), Target(1, 99))
	assert.Equal(t, uint64(0), Target(1000, 0))
	assert.Equal(t, uint64(999), Target(999, 100))
	assert.Equal(t, uint64(math.MaxUint64), Target(math.MaxUint64, 100))
	assert.Equal(t, uint64(math.MaxUint64/2), Target(math.MaxUint64, 50))
}

func TestFillerName(t *testing.T) {
	assert.Equal(t, "filler_0001.tmp", FillerName(1))
	assert.Equal(t, "filler_0042.tmp", FillerName(42))
	assert.Equal(t, "filler_12345.tmp", FillerName(12345))
}
