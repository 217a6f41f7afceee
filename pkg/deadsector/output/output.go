// Package output renders deadsector results in several formats (pretty,
// plain, json, yaml).
//
// Formatters are looked up by name in a registry:
//
//	f, err := output.Get("plain")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := f.Format(&buf, &output.Report{Scan: result}); err != nil {
//	    return err
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/jamesainslie/deadsector/pkg/deadsector/diskinfo"
	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/manifest"
	"github.com/jamesainslie/deadsector/pkg/deadsector/regions"
	"github.com/jamesainslie/deadsector/pkg/deadsector/smart"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var logger = logging.Get("output")

// Report is what a command hands to a formatter. Only the sections that are
// set are rendered.
type Report struct {
	Scan       *types.ScanResult    `json:"scan,omitempty" yaml:"scan,omitempty"`
	Isolate    *types.IsolateReport `json:"isolate,omitempty" yaml:"isolate,omitempty"`
	Quarantine *QuarantineListing   `json:"quarantine,omitempty" yaml:"quarantine,omitempty"`
	Regions    *RegionListing       `json:"regions,omitempty" yaml:"regions,omitempty"`
	Disks      *DiskListing         `json:"disks,omitempty" yaml:"disks,omitempty"`
	Smart      *smart.Report        `json:"smart,omitempty" yaml:"smart,omitempty"`
	History    []manifest.Entry     `json:"history,omitempty" yaml:"history,omitempty"`

	// Warnings are printed after the sections.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// QuarantineListing is the content of one quarantine directory.
type QuarantineListing struct {
	Dir   string                  `json:"dir" yaml:"dir"`
	Files []types.QuarantinedFile `json:"files" yaml:"files"`
}

// TotalSize returns the summed size of the listed files.
func (l *QuarantineListing) TotalSize() int64 {
	var total int64
	for _, f := range l.Files {
		total += f.Size
	}
	return total
}

// RegionListing is either the regions of one device or, with Device
// empty, the devices that have regions.
type RegionListing struct {
	Device  string           `json:"device,omitempty" yaml:"device,omitempty"`
	Regions []regions.Region `json:"regions,omitempty" yaml:"regions,omitempty"`
	Devices []string         `json:"devices,omitempty" yaml:"devices,omitempty"`
}

// DiskListing is the mounted filesystems and the raw devices behind them.
type DiskListing struct {
	Partitions []diskinfo.Partition `json:"partitions" yaml:"partitions"`
	RawDevices []string             `json:"raw_devices" yaml:"raw_devices"`
}

// Formatter renders a Report.
type Formatter interface {
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory creates a Formatter.
type FormatterFactory func() Formatter

// Registry maps names to formatter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		logger.Debug("unknown formatter requested", "name", name)
		return nil, fmt.Errorf("unknown output format %q (available: %v)", name, r.available())
	}
	return factory(), nil
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available()
}

func (r *Registry) available() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available lists the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
