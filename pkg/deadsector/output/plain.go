package output

import (
	"bytes"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// PlainFormatter writes uncolored aligned text suitable for piping.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	for i, sec := range buildSections(r) {
		if i > 0 {
			w.WriteString("\n")
		}
		w.WriteString("== " + sec.title + " ==\n")
		if len(sec.pairs) > 0 {
			writePairs(w, sec.pairs)
		}
		if sec.status != "" {
			w.WriteString(sec.status + "\n")
		}
		for _, t := range sec.tables {
			w.WriteString("\n")
			if t.title != "" {
				w.WriteString(t.title + ":\n")
			}
			if len(t.rows) == 0 {
				w.WriteString("none\n")
				continue
			}
			writeTable(w, t.headers, t.rows)
		}
	}
	if len(r.Warnings) > 0 {
		w.WriteString("\nwarnings:\n")
		for _, warn := range r.Warnings {
			w.WriteString("  " + warn + "\n")
		}
	}
	return nil
}

func writeTable(w io.Writer, headers []string, rows [][]string) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(headers)
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator("")
	tw.SetRowSeparator("")
	tw.SetHeaderLine(false)
	tw.SetBorder(false)
	tw.SetTablePadding("  ")
	tw.SetNoWhiteSpace(true)
	tw.AppendBulk(rows)
	tw.Render()
}

func writePairs(w io.Writer, pairs [][2]string) {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoWrapText(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator("")
	tw.SetRowSeparator("")
	tw.SetBorder(false)
	tw.SetTablePadding(" ")
	tw.SetNoWhiteSpace(true)
	for _, p := range pairs {
		tw.Append([]string{strings.ToLower(p[0]) + ":", p[1]})
	}
	tw.Render()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

var _ Formatter = (*PlainFormatter)(nil)
