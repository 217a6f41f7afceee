// Package manifest records completed scan, isolate and delete operations
// as JSON files so they can be reviewed later.
package manifest

import (
	"time"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

// OperationType names the recorded operation.
type OperationType string

const (
	OpScan    OperationType = "scan"
	OpIsolate OperationType = "isolate"
	OpDelete  OperationType = "delete"
)

// Entry is one recorded operation.
type Entry struct {
	ID        string        `json:"id" yaml:"id"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Operation OperationType `json:"operation" yaml:"operation"`

	// Target is the device for scans and the filesystem path otherwise.
	Target  string  `json:"target" yaml:"target"`
	Summary Summary `json:"summary" yaml:"summary"`

	ErrorOffsets []uint64              `json:"error_offsets,omitempty" yaml:"error_offsets,omitempty"`
	Retained     []types.RetainedEntry `json:"retained,omitempty" yaml:"retained,omitempty"`
	Deleted      []string              `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// Summary holds the headline numbers of an operation.
type Summary struct {
	// Bytes is scanned bytes for scans, written bytes for isolation and
	// freed bytes for deletions.
	Bytes       uint64        `json:"bytes" yaml:"bytes"`
	Errors      int           `json:"errors" yaml:"errors"`
	Retained    int           `json:"retained" yaml:"retained"`
	Deleted     int           `json:"deleted" yaml:"deleted"`
	Elapsed     time.Duration `json:"elapsed" yaml:"elapsed"`
	Interrupted bool          `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
}
