package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jamesainslie/deadsector/pkg/deadsector/manifest"
	"github.com/jamesainslie/deadsector/pkg/deadsector/smart"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

// level tints a section's status line in pretty output.
type level int

const (
	levelOK level = iota
	levelWarn
	levelDanger
)

type table struct {
	title   string
	headers []string
	rows    [][]string
}

// section is the format-neutral shape shared by the pretty and plain
// formatters.
type section struct {
	title  string
	pairs  [][2]string
	status string
	level  level
	tables []table
}

func buildSections(r *Report) []section {
	var out []section
	if r.Scan != nil {
		out = append(out, scanSection(r.Scan))
	}
	if r.Isolate != nil {
		out = append(out, isolateSection(r.Isolate))
	}
	if r.Quarantine != nil {
		out = append(out, quarantineSection(r.Quarantine))
	}
	if r.Regions != nil {
		out = append(out, regionSection(r.Regions))
	}
	if r.Disks != nil {
		out = append(out, diskSection(r.Disks))
	}
	if r.Smart != nil {
		out = append(out, smartSection(r))
	}
	if r.History != nil {
		out = append(out, historySection(r))
	}
	return out
}

func scanSection(s *types.ScanResult) section {
	sec := section{
		title: "Raw scan",
		pairs: [][2]string{
			{"Device", s.Device},
			{"Device size", types.FormatBytes(s.DeviceSize)},
			{"Block size", types.FormatSize(int64(s.BlockSize))},
			{"Scanned", fmt.Sprintf("%s of %s", types.FormatBytes(s.BytesScanned), types.FormatBytes(s.BytesPlanned))},
			{"Read errors", strconv.Itoa(len(s.ErrorOffsets))},
			{"Elapsed", formatDuration(s.Elapsed)},
		},
	}

	switch {
	case s.Aborted != "":
		sec.status, sec.level = "Scan aborted: "+s.Aborted, levelDanger
	case s.Interrupted:
		sec.status, sec.level = "Scan interrupted", levelWarn
	case s.EndedEarly:
		sec.status, sec.level = "Device ended before the planned size", levelWarn
	case len(s.ErrorOffsets) > 0:
		sec.status, sec.level = fmt.Sprintf("%d unreadable blocks found", len(s.ErrorOffsets)), levelDanger
	default:
		sec.status = "No read errors"
	}

	if len(s.ErrorOffsets) > 0 {
		t := table{title: "Unreadable blocks", headers: []string{"OFFSET", "POSITION"}}
		for _, off := range s.ErrorOffsets {
			t.rows = append(t.rows, []string{strconv.FormatUint(off, 10), types.FormatBytes(off)})
		}
		sec.tables = append(sec.tables, t)
	}
	return sec
}

func isolateSection(r *types.IsolateReport) section {
	sec := section{
		title: "Sector isolation",
		pairs: [][2]string{
			{"Filesystem", r.Filesystem},
			{"Quarantine", r.QuarantineDir},
		},
	}

	if f := r.Fill; f != nil {
		sec.pairs = append(sec.pairs,
			[2]string{"Free space", types.FormatBytes(f.FreeBytes)},
			[2]string{"Written", fmt.Sprintf("%s of %s in %d files", types.FormatBytes(f.BytesWritten), types.FormatBytes(f.TargetBytes), len(f.CreatedFiles))},
			[2]string{"Fill stopped", string(f.Stop)},
			[2]string{"Write errors", strconv.Itoa(len(f.WriteErrors))},
		)
		if len(f.WriteErrors) > 0 {
			t := table{title: "Write errors", headers: []string{"PATH", "CLASS", "REASON"}}
			for _, we := range f.WriteErrors {
				t.rows = append(t.rows, []string{we.Path, string(we.Class), we.Reason})
			}
			sec.tables = append(sec.tables, t)
		}
	}

	failed := 0
	for _, v := range r.Verdicts {
		if !v.Healthy {
			failed++
		}
	}
	sec.pairs = append(sec.pairs, [2]string{"Verified", fmt.Sprintf("%d files, %d failed", len(r.Verdicts), failed)})

	retained := 0
	if p := r.Process; p != nil {
		retained = len(p.Retained)
		sec.pairs = append(sec.pairs,
			[2]string{"Deleted", strconv.Itoa(p.DeletedCount)},
			[2]string{"Retained", strconv.Itoa(retained)},
		)
		if retained > 0 {
			t := table{title: "Retained files", headers: []string{"STATUS", "PATH", "REASON"}}
			for _, e := range p.Retained {
				t.rows = append(t.rows, []string{string(e.Status), e.QuarantinePath, e.Reason})
			}
			sec.tables = append(sec.tables, t)
		}
		if len(p.DeleteErrors) > 0 {
			t := table{title: "Delete errors", headers: []string{"PATH", "REASON"}}
			for _, de := range p.DeleteErrors {
				t.rows = append(t.rows, []string{de.Path, de.Reason})
			}
			sec.tables = append(sec.tables, t)
		}
	}
	sec.pairs = append(sec.pairs, [2]string{"Elapsed", formatDuration(r.Elapsed)})

	switch {
	case r.Interrupted:
		sec.status, sec.level = "Isolation interrupted; filler files cleaned up", levelWarn
	case retained > 0:
		sec.status, sec.level = fmt.Sprintf("%d bad files retained in quarantine", retained), levelDanger
	default:
		sec.status = "No bad sectors found in the filled space"
	}
	return sec
}

func quarantineSection(l *QuarantineListing) section {
	sec := section{
		title: "Quarantine",
		pairs: [][2]string{
			{"Directory", l.Dir},
			{"Files", strconv.Itoa(len(l.Files))},
			{"Total", types.FormatSize(l.TotalSize())},
		},
	}
	if len(l.Files) == 0 {
		sec.status = "Quarantine is empty"
		return sec
	}
	t := table{headers: []string{"NAME", "SIZE", "MODIFIED", "RETAINED"}}
	for _, f := range l.Files {
		t.rows = append(t.rows, []string{f.Name, types.FormatSize(f.Size), f.ModTime.Format(time.DateTime), yesNo(f.Retained)})
	}
	sec.tables = append(sec.tables, t)
	return sec
}

func regionSection(l *RegionListing) section {
	if l.Device == "" {
		sec := section{title: "Known bad regions"}
		if len(l.Devices) == 0 {
			sec.status = "No regions recorded"
			return sec
		}
		t := table{headers: []string{"DEVICE"}}
		for _, d := range l.Devices {
			t.rows = append(t.rows, []string{d})
		}
		sec.tables = append(sec.tables, t)
		return sec
	}

	sec := section{
		title: "Known bad regions",
		pairs: [][2]string{{"Device", l.Device}, {"Regions", strconv.Itoa(len(l.Regions))}},
	}
	if len(l.Regions) == 0 {
		sec.status = "No regions recorded"
		return sec
	}
	sec.status, sec.level = fmt.Sprintf("%d regions have failed to read", len(l.Regions)), levelDanger
	t := table{headers: []string{"OFFSET", "BLOCK", "HITS", "FIRST SEEN", "LAST SEEN"}}
	for _, rg := range l.Regions {
		t.rows = append(t.rows, []string{
			strconv.FormatUint(rg.Offset, 10),
			types.FormatSize(int64(rg.BlockSize)),
			strconv.Itoa(rg.Hits),
			rg.FirstSeen.Format(time.DateTime),
			rg.LastSeen.Format(time.DateTime),
		})
	}
	sec.tables = append(sec.tables, t)
	return sec
}

func diskSection(l *DiskListing) section {
	sec := section{title: "Filesystems"}
	t := table{headers: []string{"DEVICE", "MOUNTPOINT", "TYPE", "FREE", "TOTAL", "USED"}}
	for _, p := range l.Partitions {
		free, total, used := "-", "-", "-"
		if p.Usage != nil {
			free = types.FormatBytes(p.Usage.FreeBytes)
			total = types.FormatBytes(p.Usage.TotalBytes)
			used = fmt.Sprintf("%.1f%%", p.UsedPct)
		}
		t.rows = append(t.rows, []string{p.Device, p.Mountpoint, p.Fstype, free, total, used})
	}
	sec.tables = append(sec.tables, t)

	raw := table{title: "Raw devices", headers: []string{"DEVICE"}}
	for _, d := range l.RawDevices {
		raw.rows = append(raw.rows, []string{d})
	}
	sec.tables = append(sec.tables, raw)
	sec.status = "Use a raw device with scan or smart, and a mountpoint with isolate"
	return sec
}

func smartSection(r *Report) section {
	s := r.Smart
	sec := section{
		title: "S.M.A.R.T.",
		pairs: [][2]string{{"Device", s.Device}, {"Outcome", string(s.Outcome)}},
	}
	if s.Strategy != "" {
		sec.pairs = append(sec.pairs, [2]string{"Device type", s.Strategy})
	}

	switch s.Outcome {
	case smart.Available:
		sec.status = "Attributes read"
	case smart.PermissionDenied:
		sec.status, sec.level = "Permission denied; run as root or enable smart.sudo", levelDanger
	case smart.NotFound:
		sec.status, sec.level = "smartctl not found; install smartmontools", levelDanger
	default:
		sec.status, sec.level = "No S.M.A.R.T. data after all device types", levelWarn
	}

	if len(s.Attributes) > 0 {
		t := table{headers: []string{"ATTRIBUTE", "RAW"}}
		for _, a := range s.Attributes {
			t.rows = append(t.rows, []string{a.Name, a.Raw})
		}
		sec.tables = append(sec.tables, t)
	}
	attempts := table{title: "Attempts", headers: []string{"TYPE", "OUTCOME", "EXIT", "DETAIL"}}
	for _, a := range s.Attempts {
		attempts.rows = append(attempts.rows, []string{a.Strategy, string(a.Outcome), strconv.Itoa(a.ExitCode), a.Detail})
	}
	sec.tables = append(sec.tables, attempts)
	return sec
}

func historySection(r *Report) section {
	sec := section{title: "History"}
	if len(r.History) == 0 {
		sec.status = "No recorded operations"
		return sec
	}
	t := table{headers: []string{"ID", "OPERATION", "TARGET", "BYTES", "ERRORS", "RETAINED", "DELETED"}}
	for _, e := range r.History {
		t.rows = append(t.rows, []string{
			e.ID,
			string(e.Operation),
			e.Target,
			types.FormatBytes(e.Summary.Bytes),
			strconv.Itoa(e.Summary.Errors),
			strconv.Itoa(e.Summary.Retained),
			strconv.Itoa(e.Summary.Deleted),
		})
	}
	sec.tables = append(sec.tables, t)
	if len(r.History) == 1 {
		historyDetail(&sec, r.History[0])
	}
	return sec
}

// historyDetail adds what a single entry recorded.
func historyDetail(sec *section, e manifest.Entry) {
	sec.pairs = append(sec.pairs,
		[2]string{"Time", e.Timestamp.Local().Format("2006-01-02 15:04:05 MST")},
		[2]string{"Elapsed", formatDuration(e.Summary.Elapsed)},
		[2]string{"Interrupted", yesNo(e.Summary.Interrupted)},
	)
	if len(e.ErrorOffsets) > 0 {
		t := table{title: "Unreadable offsets", headers: []string{"OFFSET", "POSITION"}}
		for _, off := range e.ErrorOffsets {
			t.rows = append(t.rows, []string{strconv.FormatUint(off, 10), types.FormatBytes(off)})
		}
		sec.tables = append(sec.tables, t)
	}
	if len(e.Retained) > 0 {
		t := table{title: "Retained files", headers: []string{"FILE", "STATUS", "REASON"}}
		for _, re := range e.Retained {
			t.rows = append(t.rows, []string{re.QuarantinePath, string(re.Status), re.Reason})
		}
		sec.tables = append(sec.tables, t)
	}
	if len(e.Deleted) > 0 {
		t := table{title: "Deleted files", headers: []string{"FILE"}}
		for _, d := range e.Deleted {
			t.rows = append(t.rows, []string{d})
		}
		sec.tables = append(sec.tables, t)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatDuration formats a duration for people.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	switch {
	case sec < 1:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case sec < 60:
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
