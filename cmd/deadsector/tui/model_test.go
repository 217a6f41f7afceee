package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestModel_PhasesKeepFirstReportOrder(t *testing.T) {
	m := NewModel("Isolating /mnt", nil)

	_, ok := m.Current()
	assert.False(t, ok)

	m, _ = update(t, m, ProgressMsg{Phase: types.PhaseFill, Done: 10, Total: 100})
	m, _ = update(t, m, ProgressMsg{Phase: types.PhaseVerify, Done: 5, Total: 50})
	m, _ = update(t, m, ProgressMsg{Phase: types.PhaseFill, Done: 100, Total: 100, Final: true})

	assert.Equal(t, []types.Phase{types.PhaseFill, types.PhaseVerify}, m.phases)
	assert.True(t, m.latest[types.PhaseFill].Final)

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, types.PhaseVerify, cur.Phase)

	view := m.View()
	assert.Contains(t, view, "Isolating /mnt")
	assert.Contains(t, view, "Filling")
	assert.Contains(t, view, "Verifying")
}

func TestModel_CancelOnce(t *testing.T) {
	calls := 0
	m := NewModel("Scanning /dev/sdb", func() { calls++ })

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	assert.Equal(t, 1, calls)
	assert.True(t, m.stopping)
	assert.Contains(t, m.View(), "stopping")
}

func TestModel_DoneQuits(t *testing.T) {
	m := NewModel("Scanning /dev/sdb", nil)

	m, cmd := update(t, m, DoneMsg{Err: errors.New("boom")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, m.Done())
	assert.EqualError(t, m.Err(), "boom")
	assert.Contains(t, m.View(), "Stopped: boom")
}

func TestModel_WindowResizesBar(t *testing.T) {
	m := NewModel("x", nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 50, Height: 20})
	assert.Equal(t, 50, m.width)
	assert.Equal(t, 38, m.bar.Width)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 300, Height: 20})
	assert.Equal(t, 80, m.bar.Width)
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		in   types.Progress
		want string
	}{
		{
			name: "bytes with rate",
			in:   types.Progress{Phase: types.PhaseFill, Done: uint64(types.MiB), Total: uint64(4 * types.MiB), Elapsed: 2 * time.Second},
			want: "1.0 MiB / 4.0 MiB  512 KiB/s  25.0%  0:02",
		},
		{
			name: "verify with items and errors",
			in:   types.Progress{Phase: types.PhaseVerify, Total: 2048, Item: 2, Items: 3, Errors: 1},
			want: "0 B / 2.0 KiB  file 2/3  0.0%  1 errors  0:00",
		},
		{
			name: "process counts files",
			in:   types.Progress{Phase: types.PhaseProcess, Done: 3, Total: 4, Elapsed: 65 * time.Second},
			want: "3/4 files  75.0%  1:05",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summary(tt.in))
		})
	}
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "/short", truncatePath("/short", 20))
	assert.Equal(t, ".../filler_0001.tmp", truncatePath("/mnt/data/.quarantine_files/filler_0001.tmp", 19))
}

func TestRunner_FeedsEventsThenDone(t *testing.T) {
	events := make(chan types.Progress, 2)
	events <- types.Progress{Phase: types.PhaseScan, Done: 1, Total: 2}
	close(events)

	workErr := errors.New("interrupted")
	r := newRunner(NewModel("x", nil), events, func() error { return workErr })

	msg := r.wait()()
	p, ok := msg.(ProgressMsg)
	require.True(t, ok)
	assert.Equal(t, uint64(1), p.Done)

	next, cmd := r.Update(msg)
	require.NotNil(t, cmd)
	r = next.(runner)
	assert.Equal(t, []types.Phase{types.PhaseScan}, r.phases)

	done, ok := r.wait()().(DoneMsg)
	require.True(t, ok)
	assert.ErrorIs(t, done.Err, workErr)
}
