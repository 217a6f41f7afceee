// Package config provides configuration management for deadsector.
package config

import "time"

// Default configuration values.
const (
	// DefaultBlockSize is the raw scan read unit.
	DefaultBlockSize = "64K"

	// DefaultScanLimit is the raw scan cap. Zero scans the whole device.
	DefaultScanLimit = "0"

	// DefaultProgressInterval throttles raw scan progress events.
	DefaultProgressInterval = time.Second

	// DefaultFillerSize is the size of each filler file.
	DefaultFillerSize = "100M"

	// DefaultFillPercent is the share of free space to occupy.
	DefaultFillPercent = 80

	// DefaultWriteChunk is the filler write unit.
	DefaultWriteChunk = "1M"

	// DefaultMaxConsecutiveErrors stops a fill after this many failed
	// files in a row.
	DefaultMaxConsecutiveErrors = 8

	// DefaultVerifyChunk is the integrity read unit.
	DefaultVerifyChunk = "1M"

	// DefaultQuarantineDirName is created at the root of the target
	// filesystem.
	DefaultQuarantineDirName = ".quarantine_files"

	// DefaultMaxRenameAttempts bounds the quarantine name search.
	DefaultMaxRenameAttempts = 100

	// DefaultRetentionDays is how long history entries are kept.
	DefaultRetentionDays = 90

	// DefaultSmartBinary is looked up on PATH.
	DefaultSmartBinary = "smartctl"

	// DefaultSmartTimeout applies to each smartctl attempt.
	DefaultSmartTimeout = 10 * time.Second
)
