package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

// recentLogLines is how many captured warnings are shown under the phases.
const recentLogLines = 3

// ProgressMsg carries one progress event from the running operation.
type ProgressMsg types.Progress

// DoneMsg is sent once the operation has returned.
type DoneMsg struct {
	Err error
}

// Model renders the progress of one operation. Phases are listed in the
// order they first report; the latest event of each is kept.
type Model struct {
	title   string
	spinner spinner.Model
	bar     progress.Model

	phases []types.Phase
	latest map[types.Phase]types.Progress

	width    int
	done     bool
	stopping bool
	err      error
	cancel   context.CancelFunc
}

// NewModel creates a model. cancel is called when the user presses
// Ctrl+C or q; it may be nil.
func NewModel(title string, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	bar := progress.New(progress.WithGradient(string(primaryColor), string(accentColor)))
	bar.Width = 60

	return Model{
		title:   title,
		spinner: s,
		bar:     bar,
		latest:  make(map[types.Phase]types.Progress),
		width:   80,
		cancel:  cancel,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(msg.Width-12, 80))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.stopping {
				m.stopping = true
				if m.cancel != nil {
					m.cancel()
				}
			}
		}
		return m, nil

	case ProgressMsg:
		m.observe(types.Progress(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) observe(p types.Progress) {
	if _, seen := m.latest[p.Phase]; !seen {
		m.phases = append(m.phases, p.Phase)
	}
	m.latest[p.Phase] = p
}

// Current returns the most recent event of the phase that reported last.
func (m Model) Current() (types.Progress, bool) {
	if len(m.phases) == 0 {
		return types.Progress{}, false
	}
	p := m.latest[m.phases[len(m.phases)-1]]
	return p, true
}

// Done reports whether the operation has returned.
func (m Model) Done() bool { return m.done }

// Err returns the error the operation returned.
func (m Model) Err() error { return m.err }

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	hint := mutedTextStyle.Render("[Ctrl+C to stop]")
	if m.stopping {
		hint = warningTextStyle.Render("stopping...")
	}
	title := titleStyle.Render(m.title)
	gap := max(1, m.width-6-lipgloss.Width(title)-lipgloss.Width(hint))
	b.WriteString(title + strings.Repeat(" ", gap) + hint)
	b.WriteString("\n\n")

	for i, phase := range m.phases {
		p := m.latest[phase]
		last := i == len(m.phases)-1
		b.WriteString(m.renderPhase(p, last && !m.done))
		b.WriteString("\n")
	}
	if len(m.phases) == 0 && !m.done {
		b.WriteString(fmt.Sprintf("%s starting...\n", m.spinner.View()))
	}

	if recent := logging.Recent(recentLogLines); len(recent) > 0 {
		b.WriteString("\n")
		for _, e := range recent {
			b.WriteString(warningTextStyle.Render(truncatePath(e.String(), max(20, m.width-6))))
			b.WriteString("\n")
		}
	}

	if m.done {
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(errorTextStyle.Render(fmt.Sprintf("Stopped: %v", m.err)))
		} else {
			b.WriteString(successTextStyle.Render("Finished"))
		}
		b.WriteString("\n")
	}

	return outerBoxStyle.Width(max(40, m.width-2)).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderPhase(p types.Progress, active bool) string {
	marker := successTextStyle.Render("✓")
	if active {
		marker = m.spinner.View()
	} else if !p.Final {
		marker = warningTextStyle.Render("•")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s  %s\n", marker, phaseStyle.Render(phaseLabel(p.Phase)), m.bar.ViewAs(p.Fraction())))
	b.WriteString("   " + mutedTextStyle.Render(Summary(p)))
	if active && p.Path != "" {
		b.WriteString("\n   " + mutedTextStyle.Render(truncatePath(p.Path, max(20, m.width-10))))
	}
	return b.String()
}

func phaseLabel(p types.Phase) string {
	switch p {
	case types.PhaseScan:
		return "Scanning "
	case types.PhaseFill:
		return "Filling  "
	case types.PhaseVerify:
		return "Verifying"
	case types.PhaseProcess:
		return "Cleaning "
	default:
		return string(p)
	}
}

// Summary renders a one-line description of an event. Process events
// count files, every other phase counts bytes.
func Summary(p types.Progress) string {
	var parts []string
	if p.Phase == types.PhaseProcess {
		parts = append(parts, fmt.Sprintf("%d/%d files", p.Done, p.Total))
	} else {
		parts = append(parts, fmt.Sprintf("%s / %s", types.FormatBytes(p.Done), types.FormatBytes(p.Total)))
		if rate := p.Rate(); rate > 0 {
			parts = append(parts, humanize.IBytes(uint64(rate))+"/s")
		}
		if p.Items > 0 {
			parts = append(parts, fmt.Sprintf("file %d/%d", p.Item, p.Items))
		}
	}
	parts = append(parts, fmt.Sprintf("%.1f%%", p.Fraction()*100))
	if p.Errors > 0 {
		parts = append(parts, fmt.Sprintf("%d errors", p.Errors))
	}
	parts = append(parts, formatElapsed(p.Elapsed))
	return strings.Join(parts, "  ")
}

// formatElapsed formats a duration as M:SS.
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d", m, s)
}

// truncatePath keeps the tail of a path, which names the file.
func truncatePath(path string, width int) string {
	if len(path) <= width || width <= 3 {
		return path
	}
	return "..." + path[len(path)-width+3:]
}
