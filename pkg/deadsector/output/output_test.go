package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/deadsector/pkg/deadsector/manifest"
	"github.com/jamesainslie/deadsector/pkg/deadsector/regions"
	"github.com/jamesainslie/deadsector/pkg/deadsector/smart"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

func scanReport() *Report {
	return &Report{Scan: &types.ScanResult{
		Device:       "/dev/sdb",
		DeviceSize:   1 << 20,
		BytesPlanned: 1 << 20,
		BytesScanned: 1 << 20,
		BlockSize:    65536,
		ErrorOffsets: []uint64{131072, 655360},
		Elapsed:      2500 * time.Millisecond,
	}}
}

func isolateReport() *Report {
	return &Report{Isolate: &types.IsolateReport{
		Filesystem:    "/mnt/data",
		QuarantineDir: "/mnt/data/.quarantine_files",
		Fill: &types.FillOutcome{
			CreatedFiles: []string{"a", "b"},
			WriteErrors: []types.WriteError{
				{Path: "/mnt/data/.quarantine_files/filler_0003.tmp", Reason: "input/output error", Class: types.ClassMedia},
			},
			BytesWritten: 200,
			TargetBytes:  300,
			Stop:         types.StopTargetReached,
		},
		Verdicts: []types.IntegrityVerdict{{Path: "a", Healthy: true}, {Path: "b", Healthy: false}},
		Process: &types.ProcessOutcome{
			DeletedCount: 1,
			Retained: []types.RetainedEntry{{
				QuarantinePath: "/mnt/data/.quarantine_files/filler_0002.quarantined.0badc0de.bad",
				Reason:         "read error at offset 4096",
				Status:         types.RetainedRenamed,
			}},
		},
	}}
}

func render(t *testing.T, name string, r *Report) string {
	t.Helper()
	f, err := Get(name)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, r))
	return buf.String()
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"json", "plain", "pretty", "yaml"}, Available())

	_, err := Get("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")

	reg := NewRegistry()
	reg.Register("custom", func() Formatter { return &PlainFormatter{} })
	f, err := reg.Get("custom")
	require.NoError(t, err)
	assert.IsType(t, &PlainFormatter{}, f)
}

func TestJSONFormatter_Scan(t *testing.T) {
	out := render(t, "json", scanReport())

	var decoded Report
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.NotNil(t, decoded.Scan)
	assert.Equal(t, []uint64{131072, 655360}, decoded.Scan.ErrorOffsets)
	assert.Nil(t, decoded.Isolate)
	assert.NotContains(t, out, `"isolate"`)
}

func TestYAMLFormatter_Isolate(t *testing.T) {
	out := render(t, "yaml", isolateReport())

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Contains(t, decoded, "isolate")
	assert.Contains(t, out, "filesystem: /mnt/data")
	assert.Contains(t, out, "status: renamed")
}

func TestPlainFormatter_Scan(t *testing.T) {
	out := render(t, "plain", scanReport())

	assert.Contains(t, out, "== Raw scan ==")
	assert.Contains(t, out, "/dev/sdb")
	assert.Contains(t, out, "2 unreadable blocks found")
	assert.Contains(t, out, "OFFSET")
	assert.Contains(t, out, "655360")
	assert.NotContains(t, out, "\x1b[")
}

func TestPlainFormatter_Isolate(t *testing.T) {
	out := render(t, "plain", isolateReport())

	assert.Contains(t, out, "== Sector isolation ==")
	assert.Contains(t, out, "1 bad files retained in quarantine")
	assert.Contains(t, out, "Retained files:")
	assert.Contains(t, out, "filler_0002.quarantined.0badc0de.bad")
	assert.Contains(t, out, "Write errors:")
	assert.Contains(t, out, "media")
}

func TestPrettyFormatter(t *testing.T) {
	r := scanReport()
	r.Warnings = []string{"regions store unavailable"}
	out := render(t, "pretty", r)

	assert.Contains(t, out, "Raw scan")
	assert.Contains(t, out, "Unreadable blocks")
	assert.Contains(t, out, "131072")
	assert.Contains(t, out, "regions store unavailable")
}

func TestSections_Quarantine(t *testing.T) {
	empty := render(t, "plain", &Report{Quarantine: &QuarantineListing{Dir: "/q"}})
	assert.Contains(t, empty, "Quarantine is empty")

	out := render(t, "plain", &Report{Quarantine: &QuarantineListing{
		Dir: "/q",
		Files: []types.QuarantinedFile{
			{Name: "filler_0001.quarantined.aa.bad", Size: 2048, Retained: true},
			{Name: "filler_0002.tmp", Size: 1024},
		},
	}})
	assert.Contains(t, out, "3.0 KiB")
	assert.Contains(t, out, "filler_0001.quarantined.aa.bad")
}

func TestSections_RegionsAndHistory(t *testing.T) {
	devices := render(t, "plain", &Report{Regions: &RegionListing{Devices: []string{"/dev/sda", "/dev/sdb"}}})
	assert.Contains(t, devices, "/dev/sdb")

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	one := render(t, "plain", &Report{Regions: &RegionListing{
		Device:  "/dev/sda",
		Regions: []regions.Region{{Device: "/dev/sda", Offset: 8192, BlockSize: 4096, Hits: 3, FirstSeen: now, LastSeen: now}},
	}})
	assert.Contains(t, one, "8192")
	assert.Contains(t, one, "2026-01-02 03:04:05")

	none := render(t, "plain", &Report{History: []manifest.Entry{}})
	assert.Contains(t, none, "No recorded operations")

	hist := render(t, "plain", &Report{History: []manifest.Entry{{ID: "scan-x", Operation: manifest.OpScan, Target: "/dev/sda"}}})
	assert.Contains(t, hist, "scan-x")
}

func TestSections_Smart(t *testing.T) {
	out := render(t, "plain", &Report{Smart: &smart.Report{
		Device:     "/dev/sda",
		Outcome:    smart.Available,
		Strategy:   "sat",
		Attributes: []smart.Attribute{{Name: "Reallocated_Sector_Ct", Raw: "8"}},
		Attempts:   []smart.Attempt{{Strategy: "auto", Outcome: smart.Failed}, {Strategy: "sat", Outcome: smart.Available}},
	}})
	assert.Contains(t, out, "Reallocated_Sector_Ct")
	assert.Contains(t, out, "Attempts:")
	assert.True(t, strings.Contains(out, "Attributes read"))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{2500 * time.Millisecond, "2.5s"},
		{125 * time.Second, "2m 5s"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}

func TestSections_HistoryDetail(t *testing.T) {
	out := render(t, "plain", &Report{History: []manifest.Entry{{
		ID:           "scan-1",
		Operation:    manifest.OpScan,
		Target:       "/dev/sdb",
		Summary:      manifest.Summary{Errors: 1, Elapsed: 3 * time.Second},
		ErrorOffsets: []uint64{4194304},
	}}})
	assert.Contains(t, out, "Unreadable offsets:")
	assert.Contains(t, out, "4194304")
	assert.Contains(t, out, "4.0 MiB")
	assert.Contains(t, out, "3.0s")

	two := render(t, "plain", &Report{History: []manifest.Entry{
		{ID: "scan-1", ErrorOffsets: []uint64{4194304}},
		{ID: "scan-2"},
	}})
	assert.NotContains(t, two, "Unreadable offsets:")
}
