package rawscan

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

const kib = 1024

// fakeDevice serves zeroes and fails reads that start at a bad offset.
type fakeDevice struct {
	size     int64 // reported size
	readable int64 // reads at or past this offset return EOF
	pos      int64

	bad      map[int64]bool
	failSeek map[int64]bool

	// align makes reads of other lengths fail with EINVAL, as O_DIRECT does.
	align int

	reads  int
	closed bool
	onRead func(reads int)
}

func newFakeDevice(size int64) *fakeDevice {
	return &fakeDevice{size: size, readable: size, bad: map[int64]bool{}, failSeek: map[int64]bool{}}
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	d.reads++
	if d.onRead != nil {
		defer d.onRead(d.reads)
	}
	if d.align > 0 && len(p)%d.align != 0 {
		return 0, &fsError{syscall.EINVAL}
	}
	if d.bad[d.pos] {
		return 0, &fsError{syscall.EIO}
	}
	if d.pos >= d.readable {
		return 0, io.EOF
	}
	n := min(int64(len(p)), d.readable-d.pos)
	clear(p[:n])
	d.pos += n
	return int(n), nil
}

func (d *fakeDevice) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekEnd:
		offset += d.size
	case io.SeekCurrent:
		offset += d.pos
	}
	if d.failSeek[offset] {
		return 0, syscall.ENXIO
	}
	d.pos = offset
	return offset, nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

type fsError struct{ errno syscall.Errno }

func (e *fsError) Error() string { return "read /dev/fake: " + e.errno.Error() }
func (e *fsError) Unwrap() error { return e.errno }

func scanWith(t *testing.T, dev *fakeDevice, opts Options) (*types.ScanResult, error) {
	t.Helper()
	opts.Device = "/dev/fake"
	opts.Open = func(string, bool) (Device, error) { return dev, nil }
	opts.CheckPrivilege = func() error { return nil }
	return New(opts).Scan(context.Background())
}

func TestScan_CleanDevice(t *testing.T) {
	dev := newFakeDevice(1024 * kib)

	res, err := scanWith(t, dev, Options{BlockSize: 64 * kib})
	require.NoError(t, err)

	assert.Equal(t, uint64(1024*kib), res.DeviceSize)
	assert.Equal(t, uint64(1024*kib), res.BytesPlanned)
	assert.Equal(t, res.BytesPlanned, res.BytesScanned)
	assert.Empty(t, res.ErrorOffsets)
	assert.NotNil(t, res.ErrorOffsets)
	assert.Equal(t, 16, dev.reads)
	assert.True(t, res.Complete())
	assert.True(t, dev.closed)
}

func TestScan_RecordsFailedBlockAndContinues(t *testing.T) {
	dev := newFakeDevice(1024 * kib)
	dev.bad[3*64*kib] = true

	res, err := scanWith(t, dev, Options{BlockSize: 64 * kib})
	require.NoError(t, err)

	assert.Equal(t, []uint64{3 * 64 * kib}, res.ErrorOffsets)
	assert.Equal(t, res.BytesPlanned, res.BytesScanned)
	assert.Equal(t, 16, dev.reads)
}

func TestScan_MultipleFailuresStrictlyIncreasing(t *testing.T) {
	dev := newFakeDevice(256 * kib)
	for _, off := range []int64{0, 16 * kib, 17 * 4 * kib, 252 * kib} {
		dev.bad[off] = true
	}

	res, err := scanWith(t, dev, Options{BlockSize: 4 * kib})
	require.NoError(t, err)

	assert.Equal(t, []uint64{0, 16 * kib, 68 * kib, 252 * kib}, res.ErrorOffsets)
	for i := 1; i < len(res.ErrorOffsets); i++ {
		assert.Greater(t, res.ErrorOffsets[i], res.ErrorOffsets[i-1])
	}
	for _, off := range res.ErrorOffsets {
		assert.Less(t, off, res.BytesPlanned)
	}
	assert.Equal(t, res.BytesPlanned, res.BytesScanned)
}

func TestScan_LimitClampsPlan(t *testing.T) {
	tests := []struct {
		name        string
		size        int64
		limit       uint64
		wantPlanned uint64
		wantReads   int
	}{
		{name: "limit below size", size: 1024 * kib, limit: 100 * kib, wantPlanned: 100 * kib, wantReads: 2},
		{name: "limit above size", size: 128 * kib, limit: 1 << 40, wantPlanned: 128 * kib, wantReads: 2},
		{name: "no limit", size: 128 * kib, limit: 0, wantPlanned: 128 * kib, wantReads: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(tt.size)
			res, err := scanWith(t, dev, Options{BlockSize: 64 * kib, Limit: tt.limit})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPlanned, res.BytesPlanned)
			assert.Equal(t, tt.wantPlanned, res.BytesScanned)
			assert.Equal(t, tt.wantReads, dev.reads)
		})
	}
}

func TestScan_DirectAlignsPlan(t *testing.T) {
	tests := []struct {
		name        string
		size        int64
		limit       uint64
		wantPlanned uint64
		wantReads   int
	}{
		{name: "unaligned limit", size: 1024 * kib, limit: 100000, wantPlanned: 96 * kib, wantReads: 2},
		{name: "unaligned device", size: 100000, wantPlanned: 96 * kib, wantReads: 2},
		{name: "aligned limit", size: 1024 * kib, limit: 128 * kib, wantPlanned: 128 * kib, wantReads: 2},
		{name: "limit below alignment", size: 1024 * kib, limit: 1000, wantPlanned: 0, wantReads: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(tt.size)
			dev.align = directAlign
			res, err := scanWith(t, dev, Options{BlockSize: 64 * kib, Limit: tt.limit, Direct: true})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPlanned, res.BytesPlanned)
			assert.Equal(t, tt.wantPlanned, res.BytesScanned)
			assert.Empty(t, res.ErrorOffsets)
			assert.Equal(t, tt.wantReads, dev.reads)
		})
	}
}

func TestScan_EmptyDevice(t *testing.T) {
	dev := newFakeDevice(0)

	res, err := scanWith(t, dev, Options{})
	require.NoError(t, err)

	assert.Zero(t, res.BytesPlanned)
	assert.Zero(t, res.BytesScanned)
	assert.Zero(t, dev.reads)
	assert.Equal(t, DefaultBlockSize, res.BlockSize)
	assert.True(t, dev.closed)
}

func TestScan_UnexpectedEnd(t *testing.T) {
	dev := newFakeDevice(1024 * kib)
	dev.readable = 512 * kib

	res, err := scanWith(t, dev, Options{BlockSize: 64 * kib})
	require.NoError(t, err)

	assert.True(t, res.EndedEarly)
	assert.Equal(t, uint64(512*kib), res.BytesScanned)
	assert.Less(t, res.BytesScanned, res.BytesPlanned)
	assert.Empty(t, res.ErrorOffsets)
	assert.False(t, res.Complete())
}

func TestScan_RecoverySeekFailureAborts(t *testing.T) {
	dev := newFakeDevice(1024 * kib)
	dev.bad[128*kib] = true
	dev.failSeek[192*kib] = true

	res, err := scanWith(t, dev, Options{BlockSize: 64 * kib})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecoverySeek)

	require.NotNil(t, res)
	assert.Equal(t, []uint64{128 * kib}, res.ErrorOffsets)
	assert.Equal(t, uint64(128*kib), res.BytesScanned)
	assert.NotEmpty(t, res.Aborted)
	assert.True(t, dev.closed)
}

func TestScan_PrivilegeCheckedBeforeOpen(t *testing.T) {
	opened := false
	_, err := New(Options{
		Device:         "/dev/sda",
		CheckPrivilege: func() error { return ErrInsufficientPrivilege },
		Open: func(string, bool) (Device, error) {
			opened = true
			return nil, errors.New("unreachable")
		},
	}).Scan(context.Background())

	assert.ErrorIs(t, err, ErrInsufficientPrivilege)
	assert.False(t, opened)
}

func TestScan_OpenFailureIsFatal(t *testing.T) {
	res, err := New(Options{
		Device:         "/dev/missing",
		CheckPrivilege: func() error { return nil },
		Open: func(string, bool) (Device, error) {
			return nil, syscall.ENOENT
		},
	}).Scan(context.Background())

	assert.Nil(t, res)
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestScan_InvalidOptions(t *testing.T) {
	_, err := New(Options{}).Scan(context.Background())
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{Device: "/dev/x", BlockSize: -1}).Scan(context.Background())
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{Device: "/dev/x", BlockSize: 1000, Direct: true}).Scan(context.Background())
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestScan_CancelAtBlockBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newFakeDevice(1024 * kib)
	dev.onRead = func(reads int) {
		if reads == 3 {
			cancel()
		}
	}

	res, err := New(Options{
		Device:         "/dev/fake",
		BlockSize:      64 * kib,
		Open:           func(string, bool) (Device, error) { return dev, nil },
		CheckPrivilege: func() error { return nil },
	}).Scan(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Interrupted)
	assert.Equal(t, uint64(3*64*kib), res.BytesScanned)
	assert.Equal(t, 3, dev.reads)
	assert.True(t, dev.closed)
}

// stepClock advances by step on every call.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func TestScan_ProgressThrottled(t *testing.T) {
	clock := &stepClock{now: time.Unix(0, 0), step: 300 * time.Millisecond}
	var events []types.Progress

	dev := newFakeDevice(64 * 4 * kib)
	res, err := scanWith(t, dev, Options{
		BlockSize:        4 * kib,
		ProgressInterval: time.Second,
		Now:              clock.Now,
		OnProgress:       func(p types.Progress) { events = append(events, p) },
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Final)
	assert.Equal(t, res.BytesScanned, last.Done)
	assert.Equal(t, types.PhaseScan, last.Phase)

	// 64 reads at 300ms each: far fewer events than blocks, never two
	// non-final events within an interval.
	assert.Less(t, len(events), 64)
	for i := 1; i < len(events)-1; i++ {
		assert.GreaterOrEqual(t, events[i].Elapsed-events[i-1].Elapsed, time.Second)
	}
}

func TestScan_ProgressDoesNotChangeResult(t *testing.T) {
	mk := func() *fakeDevice {
		d := newFakeDevice(512 * kib)
		d.bad[64*kib] = true
		return d
	}

	quiet, err := scanWith(t, mk(), Options{BlockSize: 32 * kib})
	require.NoError(t, err)

	noisy, err := scanWith(t, mk(), Options{
		BlockSize:        32 * kib,
		ProgressInterval: time.Nanosecond,
		OnProgress:       func(types.Progress) {},
	})
	require.NoError(t, err)

	assert.Equal(t, quiet.ErrorOffsets, noisy.ErrorOffsets)
	assert.Equal(t, quiet.BytesScanned, noisy.BytesScanned)
}

func TestLimitFromGB(t *testing.T) {
	assert.Equal(t, uint64(0), LimitFromGB(0, 4096))
	assert.Equal(t, uint64(0), LimitFromGB(-1, 4096))
	assert.Equal(t, uint64(10<<30), LimitFromGB(10, 4096))
	assert.Equal(t, uint64(1<<29), LimitFromGB(0.5, 4096))
	assert.Equal(t, uint64(4096), LimitFromGB(1e-12, 4096))
	assert.Equal(t, uint64(DefaultBlockSize), LimitFromGB(1e-12, 0))
}
