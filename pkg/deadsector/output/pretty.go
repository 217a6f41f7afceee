package output

import (
	"bytes"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// PrettyFormatter renders boxed, colored sections for a terminal.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	for _, sec := range buildSections(r) {
		w.WriteString(f.summary(sec))
		w.WriteString("\n")
		for _, t := range sec.tables {
			w.WriteString(f.renderTable(t))
			w.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		w.WriteString(f.warnings(r.Warnings))
		w.WriteString("\n")
	}
	return nil
}

func (f *PrettyFormatter) summary(sec section) string {
	lines := []string{TitleStyle.Render(sec.title)}

	width := 0
	for _, p := range sec.pairs {
		width = max(width, lipgloss.Width(p[0]))
	}
	for _, p := range sec.pairs {
		label := LabelStyle.Render(padRight(p[0]+":", width+1))
		lines = append(lines, label+" "+ValueStyle.Render(p[1]))
	}
	if sec.status != "" {
		lines = append(lines, statusStyle(sec.level).Render(sec.status))
	}
	return SectionBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) renderTable(t table) string {
	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(TitleStyle.Render(t.title))
		sb.WriteString("\n")
	}
	if len(t.rows) == 0 {
		sb.WriteString(MutedStyle.Render("  none"))
		sb.WriteString("\n")
		return sb.String()
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i := range min(len(row), len(widths)) {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	cells := make([]string, len(t.headers))
	for i, h := range t.headers {
		cells[i] = TableHeaderStyle.Render(padRight(h, widths[i]))
	}
	sb.WriteString("  " + strings.Join(cells, ""))
	sb.WriteString("\n")

	for _, row := range t.rows {
		for i := range cells {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			cells[i] = TableRowStyle.Render(padRight(v, widths[i]))
		}
		sb.WriteString("  " + strings.TrimRight(strings.Join(cells, ""), " "))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) warnings(warnings []string) string {
	lines := []string{WarningStyle.Bold(true).Render("Warnings")}
	for _, w := range warnings {
		lines = append(lines, WarningStyle.Render("• "+w))
	}
	return WarningBox.Render(strings.Join(lines, "\n"))
}

func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
