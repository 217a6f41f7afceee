package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultBufferSize is the number of entries kept while a progress view
// owns the terminal.
const DefaultBufferSize = 50

// Entry is one captured log line.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
}

// String renders the entry as a single line.
func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s: %s", e.Time.Format(time.TimeOnly), strings.ToUpper(e.Level.String()), e.Component, e.Message)
}

// Buffer is a fixed-size ring of recent warnings and errors.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	start   int
	count   int
}

// NewBuffer creates a buffer holding up to size entries.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{entries: make([]Entry, size)}
}

// Add appends e, overwriting the oldest entry when full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[(b.start+b.count)%len(b.entries)] = e
	if b.count < len(b.entries) {
		b.count++
	} else {
		b.start = (b.start + 1) % len(b.entries)
	}
}

// Last returns up to n of the most recent entries, oldest first.
func (b *Buffer) Last(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n = max(0, min(n, b.count))
	out := make([]Entry, n)
	skip := b.count - n
	for i := range n {
		out[i] = b.entries[(b.start+skip+i)%len(b.entries)]
	}
	return out
}

// Len returns the number of entries held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// formatMessage joins msg with its key/value pairs.
func formatMessage(msg string, args ...any) string {
	if len(args) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		sb.WriteByte(' ')
		if i+1 < len(args) {
			fmt.Fprintf(&sb, "%v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&sb, "%v", args[i])
		}
	}
	return sb.String()
}
