// Package metrics exports scan and isolate results as Prometheus gauges
// written to a node_exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

// Metrics holds the gauges of one run.
type Metrics struct {
	registry *prometheus.Registry

	ScanBytesPlanned    *prometheus.GaugeVec
	ScanBytesScanned    *prometheus.GaugeVec
	ScanReadErrors      *prometheus.GaugeVec
	ScanDurationSeconds *prometheus.GaugeVec

	FillBytesWritten *prometheus.GaugeVec
	FillWriteErrors  *prometheus.GaugeVec
	RetainedFiles    *prometheus.GaugeVec
	DeletedFiles     *prometheus.GaugeVec

	// LastRun is the completion time by operation.
	LastRun *prometheus.GaugeVec
}

// New creates the gauges on a private registry.
func New() *Metrics {
	device := []string{"device"}
	fs := []string{"filesystem"}
	gauge := func(name, help string, labels []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ScanBytesPlanned:    gauge("deadsector_scan_bytes_planned", "Bytes the last raw scan planned to read", device),
		ScanBytesScanned:    gauge("deadsector_scan_bytes_scanned", "Bytes the last raw scan read or skipped", device),
		ScanReadErrors:      gauge("deadsector_scan_read_errors", "Blocks that failed to read in the last raw scan", device),
		ScanDurationSeconds: gauge("deadsector_scan_duration_seconds", "Duration of the last raw scan in seconds", device),

		FillBytesWritten: gauge("deadsector_fill_bytes_written", "Bytes of filler written by the last isolate run", fs),
		FillWriteErrors:  gauge("deadsector_fill_write_errors", "Filler files that failed while being written", fs),
		RetainedFiles:    gauge("deadsector_isolate_retained_files", "Bad filler files retained by the last isolate run", fs),
		DeletedFiles:     gauge("deadsector_isolate_deleted_files", "Healthy filler files deleted by the last isolate run", fs),

		LastRun: gauge("deadsector_last_run_timestamp_seconds", "Unix time the last operation finished", []string{"operation"}),
	}

	m.registry.MustRegister(
		m.ScanBytesPlanned, m.ScanBytesScanned, m.ScanReadErrors, m.ScanDurationSeconds,
		m.FillBytesWritten, m.FillWriteErrors, m.RetainedFiles, m.DeletedFiles,
		m.LastRun,
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveScan sets the scan gauges for r.Device.
func (m *Metrics) ObserveScan(r *types.ScanResult, at time.Time) {
	m.ScanBytesPlanned.WithLabelValues(r.Device).Set(float64(r.BytesPlanned))
	m.ScanBytesScanned.WithLabelValues(r.Device).Set(float64(r.BytesScanned))
	m.ScanReadErrors.WithLabelValues(r.Device).Set(float64(len(r.ErrorOffsets)))
	m.ScanDurationSeconds.WithLabelValues(r.Device).Set(r.Elapsed.Seconds())
	m.LastRun.WithLabelValues("scan").Set(float64(at.Unix()))
}

// ObserveIsolate sets the isolate gauges for r.Filesystem.
func (m *Metrics) ObserveIsolate(r *types.IsolateReport, at time.Time) {
	if r.Fill != nil {
		m.FillBytesWritten.WithLabelValues(r.Filesystem).Set(float64(r.Fill.BytesWritten))
		m.FillWriteErrors.WithLabelValues(r.Filesystem).Set(float64(len(r.Fill.WriteErrors)))
	}
	if r.Process != nil {
		m.RetainedFiles.WithLabelValues(r.Filesystem).Set(float64(len(r.Process.Retained)))
		m.DeletedFiles.WithLabelValues(r.Filesystem).Set(float64(r.Process.DeletedCount))
	}
	m.LastRun.WithLabelValues("isolate").Set(float64(at.Unix()))
}

// WriteTextfile writes the registry to path in the text exposition format.
// The write is atomic, as node_exporter may read the file at any time.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
