package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

// Work is a long-running operation reporting through onProgress.
type Work func(ctx context.Context, onProgress func(types.Progress)) error

// Run executes work while drawing its progress. The operation runs in its
// own goroutine and hands events to the program over a channel; Ctrl+C
// cancels the context passed to work, and Run waits for work to return
// before returning its error.
func Run(ctx context.Context, title string, work Work) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan types.Progress, 16)
	finished := make(chan struct{})
	var workErr error

	go func() {
		defer close(finished)
		defer close(events)
		workErr = work(ctx, func(p types.Progress) {
			select {
			case events <- p:
			case <-ctx.Done():
				// Nobody may be reading any more; events are observational.
			}
		})
	}()

	result := func() error {
		<-finished
		return workErr
	}

	program := tea.NewProgram(newRunner(NewModel(title, cancel), events, result))
	_, runErr := program.Run()

	cancel()
	err := result()
	if runErr != nil {
		return fmt.Errorf("progress view: %w", runErr)
	}
	return err
}

// runner feeds channel events into a Model.
type runner struct {
	Model
	events <-chan types.Progress
	result func() error
}

func newRunner(m Model, events <-chan types.Progress, result func() error) runner {
	return runner{Model: m, events: events, result: result}
}

func (r runner) Init() tea.Cmd {
	return tea.Batch(r.Model.Init(), r.wait())
}

func (r runner) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := r.Model.Update(msg)
	r.Model = next.(Model)
	if _, ok := msg.(ProgressMsg); ok {
		return r, tea.Batch(cmd, r.wait())
	}
	return r, cmd
}

// wait delivers the next event, or DoneMsg once the channel is closed.
func (r runner) wait() tea.Cmd {
	return func() tea.Msg {
		p, ok := <-r.events
		if !ok {
			return DoneMsg{Err: r.result()}
		}
		return ProgressMsg(p)
	}
}
