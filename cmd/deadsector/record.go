package main

import (
	"fmt"
	"time"

	"github.com/jamesainslie/deadsector/pkg/deadsector/config"
	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/manifest"
	"github.com/jamesainslie/deadsector/pkg/deadsector/metrics"
	"github.com/jamesainslie/deadsector/pkg/deadsector/regions"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var logger = logging.Get("cli")

// The record functions persist what an operation did: the history entry,
// the region index and the metrics textfile. The operation has already
// happened, so failures come back as warnings for the report.

func recordScan(cfg *config.Config, r *types.ScanResult) []string {
	var warnings []string
	now := time.Now()

	if cfg.Regions.Enabled && r.BytesScanned > 0 {
		if added, err := recordRegions(cfg.Regions.Path, r, now); err != nil {
			warnings = append(warnings, fmt.Sprintf("region index not updated: %v", err))
		} else if added > 0 {
			printVerbose("Recorded %d new bad regions for %s", added, r.Device)
		}
	}

	if cfg.History.Enabled {
		warnings = appendWarning(warnings, "history", func(m *manifest.Manifest) error {
			_, err := m.LogScan(r)
			return err
		}, cfg)
	}

	if cfg.Metrics.Textfile != "" {
		m := metrics.New()
		m.ObserveScan(r, now)
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			warnings = append(warnings, fmt.Sprintf("metrics not written: %v", err))
		}
	}
	return warnings
}

func recordRegions(path string, r *types.ScanResult, at time.Time) (int, error) {
	store, err := regions.OpenStore(path)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.Record(r.Device, r.BlockSize, r.ErrorOffsets, at)
}

func recordIsolate(cfg *config.Config, r *types.IsolateReport) []string {
	var warnings []string
	if cfg.History.Enabled {
		warnings = appendWarning(warnings, "history", func(m *manifest.Manifest) error {
			_, err := m.LogIsolate(r)
			return err
		}, cfg)
	}
	if cfg.Metrics.Textfile != "" {
		m := metrics.New()
		m.ObserveIsolate(r, time.Now())
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			warnings = append(warnings, fmt.Sprintf("metrics not written: %v", err))
		}
	}
	return warnings
}

func recordDelete(cfg *config.Config, dir string, files []types.QuarantinedFile) []string {
	if !cfg.History.Enabled || len(files) == 0 {
		return nil
	}
	return appendWarning(nil, "history", func(m *manifest.Manifest) error {
		_, err := m.LogDelete(dir, files)
		return err
	}, cfg)
}

func appendWarning(warnings []string, what string, fn func(*manifest.Manifest) error, cfg *config.Config) []string {
	m, err := manifest.New(cfg.History.Path)
	if err == nil {
		err = fn(m)
	}
	if err != nil {
		logger.Warn("failed to record operation", "store", what, "error", err)
		return append(warnings, fmt.Sprintf("%s not updated: %v", what, err))
	}
	return warnings
}
