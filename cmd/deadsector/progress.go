package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jamesainslie/deadsector/cmd/deadsector/tui"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

// runWithProgress runs work behind the interactive view when the terminal
// allows it, and with progress lines on stderr otherwise.
func runWithProgress(ctx context.Context, title string, work tui.Work) error {
	if useTUI() {
		return tui.Run(ctx, title, work)
	}
	printInfo("%s", title)
	return work(ctx, progressPrinter(os.Stderr))
}

// progressPrinter returns a callback writing one line per event. The core
// packages already throttle their events.
func progressPrinter(w io.Writer) func(types.Progress) {
	if getQuiet() {
		return func(types.Progress) {}
	}
	return func(p types.Progress) {
		fmt.Fprintln(w, progressLine(p))
	}
}

func progressLine(p types.Progress) string {
	line := fmt.Sprintf("%-7s %s", p.Phase, tui.Summary(p))
	if p.Final {
		line += "  done"
	}
	return line
}
