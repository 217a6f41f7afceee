// Package types provides the shared data model for deadsector.
// It includes the results produced by the raw scanner, the space filler,
// the integrity checker and the quarantine manager, along with utility
// functions for parsing and formatting byte sizes.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// ScanResult is the outcome of a raw sequential read pass over a device.
type ScanResult struct {
	// Device is the path of the scanned block device or image.
	Device string `json:"device" yaml:"device"`

	// DeviceSize is the size reported by the device, in bytes.
	DeviceSize uint64 `json:"device_size" yaml:"device_size"`

	// BytesPlanned is min(DeviceSize, limit).
	BytesPlanned uint64 `json:"bytes_planned" yaml:"bytes_planned"`

	// BytesScanned is the cursor position reached. It includes blocks
	// skipped after a read error and never exceeds BytesPlanned.
	BytesScanned uint64 `json:"bytes_scanned" yaml:"bytes_scanned"`

	// BlockSize is the read unit used for the pass.
	BlockSize int `json:"block_size" yaml:"block_size"`

	// ErrorOffsets holds the cumulative offset of every failed block,
	// strictly increasing.
	ErrorOffsets []uint64 `json:"error_offsets" yaml:"error_offsets"`

	// Elapsed is the wall time of the pass.
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`

	// EndedEarly is set when the device returned an empty read before
	// BytesPlanned was reached.
	EndedEarly bool `json:"ended_early,omitempty" yaml:"ended_early,omitempty"`

	// Interrupted is set when the pass stopped on context cancellation.
	Interrupted bool `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`

	// Aborted carries the reason a pass could not continue, if any.
	Aborted string `json:"aborted,omitempty" yaml:"aborted,omitempty"`
}

// Complete reports whether the whole planned range was covered.
func (r *ScanResult) Complete() bool {
	return r.BytesScanned == r.BytesPlanned && r.Aborted == "" && !r.Interrupted && !r.EndedEarly
}

// ErrorClass is the category an I/O failure falls in.
type ErrorClass string

const (
	// ClassNone means no error.
	ClassNone ErrorClass = ""
	// ClassDeviceFull means the filesystem has no space left.
	ClassDeviceFull ErrorClass = "device-full"
	// ClassMedia is a failure localized to one file or block.
	ClassMedia ErrorClass = "media"
	// ClassUnexpected is anything that is not an OS-level I/O error.
	ClassUnexpected ErrorClass = "unexpected"
	// ClassConfig is a caller misconfiguration detected before any I/O.
	ClassConfig ErrorClass = "config"
	// ClassCancelled marks a file abandoned because the run was cancelled.
	ClassCancelled ErrorClass = "cancelled"
)

// WriteError records a filler file that could not be completed.
type WriteError struct {
	Path   string     `json:"path" yaml:"path"`
	Reason string     `json:"reason" yaml:"reason"`
	Class  ErrorClass `json:"class" yaml:"class"`
}

// StopReason explains why the filler loop ended.
type StopReason string

const (
	StopTargetReached  StopReason = "target-reached"
	StopDeviceFull     StopReason = "device-full"
	StopUnexpected     StopReason = "unexpected-error"
	StopTooManyErrors  StopReason = "too-many-errors"
	StopCancelled      StopReason = "cancelled"
	StopNothingToWrite StopReason = "nothing-to-write"
	StopConfig         StopReason = "configuration-error"
)

// FillOutcome is the result of a free-space fill.
// A path appears in at most one of CreatedFiles and WriteErrors.
type FillOutcome struct {
	// CreatedFiles are the filler files written to their full planned size,
	// in creation order.
	CreatedFiles []string `json:"created_files" yaml:"created_files"`

	// WriteErrors are the filler files that failed, in attempt order.
	WriteErrors []WriteError `json:"write_errors" yaml:"write_errors"`

	// FreeBytes is the free space reported before filling.
	FreeBytes uint64 `json:"free_bytes" yaml:"free_bytes"`

	// TargetBytes is floor(FreeBytes * percentage / 100).
	TargetBytes uint64 `json:"target_bytes" yaml:"target_bytes"`

	// BytesWritten counts bytes in completed files only.
	BytesWritten uint64 `json:"bytes_written" yaml:"bytes_written"`

	Stop StopReason `json:"stop" yaml:"stop"`
}

// VerdictReason is a machine-readable code for an integrity verdict.
type VerdictReason string

const (
	VerdictOK           VerdictReason = "ok"
	VerdictEmpty        VerdictReason = "empty"
	VerdictStatFailed   VerdictReason = "stat-failed"
	VerdictOpenFailed   VerdictReason = "open-failed"
	VerdictReadError    VerdictReason = "read-error"
	VerdictReadMismatch VerdictReason = "read-mismatch"
	VerdictCancelled    VerdictReason = "cancelled"
)

// IntegrityVerdict is the result of reading one file back in full.
type IntegrityVerdict struct {
	Path    string        `json:"path" yaml:"path"`
	Healthy bool          `json:"healthy" yaml:"healthy"`
	Detail  string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Reason  VerdictReason `json:"reason" yaml:"reason"`

	ExpectedBytes int64 `json:"expected_bytes" yaml:"expected_bytes"`
	BytesRead     int64 `json:"bytes_read" yaml:"bytes_read"`
}

// BadFile is a file headed for quarantine together with why.
type BadFile struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// RetentionStatus tells a normal quarantine rename apart from the
// degraded outcomes where the file could not be renamed.
type RetentionStatus string

const (
	RetainedRenamed        RetentionStatus = "renamed"
	RetainedSourceMissing  RetentionStatus = "source-missing"
	RetainedRenameFailed   RetentionStatus = "rename-failed"
	RetainedNamesExhausted RetentionStatus = "names-exhausted"
)

// RetainedEntry records a bad file kept on disk to hold its sectors.
type RetainedEntry struct {
	// QuarantinePath is the renamed path, or the original path when the
	// rename did not happen.
	QuarantinePath string `json:"quarantine_path" yaml:"quarantine_path"`

	OriginalPath string          `json:"original_path" yaml:"original_path"`
	Reason       string          `json:"reason" yaml:"reason"`
	Status       RetentionStatus `json:"status" yaml:"status"`
}

// Degraded reports whether the entry was not renamed.
func (e RetainedEntry) Degraded() bool {
	return e.Status != RetainedRenamed
}

// ProcessOutcome is the result of disposing of verified filler files.
type ProcessOutcome struct {
	Retained     []RetainedEntry `json:"retained" yaml:"retained"`
	DeletedCount int             `json:"deleted_count" yaml:"deleted_count"`
	DeleteErrors []WriteError    `json:"delete_errors,omitempty" yaml:"delete_errors,omitempty"`
}

// IsolateReport is the aggregate of one fill, verify and quarantine run.
type IsolateReport struct {
	Filesystem    string             `json:"filesystem" yaml:"filesystem"`
	QuarantineDir string             `json:"quarantine_dir" yaml:"quarantine_dir"`
	Fill          *FillOutcome       `json:"fill" yaml:"fill"`
	Verdicts      []IntegrityVerdict `json:"verdicts" yaml:"verdicts"`
	Process       *ProcessOutcome    `json:"process" yaml:"process"`
	Elapsed       time.Duration      `json:"elapsed" yaml:"elapsed"`
	Interrupted   bool               `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
}

// QuarantinedFile describes an entry found in a quarantine directory.
type QuarantinedFile struct {
	Name    string    `json:"name" yaml:"name"`
	Path    string    `json:"path" yaml:"path"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`

	// Retained is true for names of the form <stem>.quarantined.<suffix>.bad.
	Retained bool   `json:"retained" yaml:"retained"`
	Stem     string `json:"stem,omitempty" yaml:"stem,omitempty"`
	Suffix   string `json:"suffix,omitempty" yaml:"suffix,omitempty"`
}

// SpaceUsage is a free-space snapshot for a mounted filesystem.
type SpaceUsage struct {
	Path       string `json:"path" yaml:"path"`
	FreeBytes  uint64 `json:"free_bytes" yaml:"free_bytes"`
	TotalBytes uint64 `json:"total_bytes" yaml:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes" yaml:"used_bytes"`
}

// Phase names the stage a progress event belongs to.
type Phase string

const (
	PhaseScan    Phase = "scan"
	PhaseFill    Phase = "fill"
	PhaseVerify  Phase = "verify"
	PhaseProcess Phase = "process"
)

// Progress is a snapshot emitted by long-running operations.
// Events are observational; dropping them changes no result.
type Progress struct {
	Phase Phase `json:"phase"`

	// Path is the device or file currently being worked on.
	Path string `json:"path,omitempty"`

	// Done and Total are in bytes for scan, fill and verify, and in files
	// for process.
	Done  uint64 `json:"done"`
	Total uint64 `json:"total"`

	// Item is the 1-based position of Path among Items files, for phases
	// that walk a list of files.
	Item  int `json:"item,omitempty"`
	Items int `json:"items,omitempty"`

	// Errors is the number of failures recorded so far.
	Errors int `json:"errors"`

	Elapsed time.Duration `json:"elapsed"`

	// Final is set on the last event of a phase.
	Final bool `json:"final,omitempty"`
}

// Fraction returns Done/Total clamped to [0,1].
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}
	f := float64(p.Done) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Rate returns bytes (or files) per second.
func (p Progress) Rate() float64 {
	secs := p.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.Done) / secs
}

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB", etc.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a human-readable size string into bytes.
// Units are binary: "64K" is 65536. "B", "KB" and "KiB" style suffixes
// are accepted in any case, decimals are truncated to the byte.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	suffix := strings.ToUpper(matches[2])
	suffix = strings.TrimSuffix(suffix, "IB")
	suffix = strings.TrimSuffix(suffix, "B")

	var multiplier int64
	switch suffix {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, suffix)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable string
// in binary (IEC) units, e.g. 1536 -> "1.5 KiB". Negative sizes are
// formatted as zero.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatBytes is FormatSize for unsigned counters.
func FormatBytes(bytes uint64) string {
	return humanize.IBytes(bytes)
}
