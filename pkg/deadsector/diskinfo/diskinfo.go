// Package diskinfo enumerates mounted filesystems and the raw devices
// behind them, and reports free space.
package diskinfo

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var logger = logging.Get("diskinfo")

// wholeDisk matches SCSI/SATA, IDE, virtio and NVMe device nodes with an
// optional partition number.
var wholeDisk = regexp.MustCompile(`^(/dev/(?:sd[a-z]+|hd[a-z]+|vd[a-z]+|nvme[0-9]+n[0-9]+))p?[0-9]*$`)

// Partition is a mounted filesystem with its usage, when readable.
type Partition struct {
	Device     string            `json:"device" yaml:"device"`
	Mountpoint string            `json:"mountpoint" yaml:"mountpoint"`
	Fstype     string            `json:"fstype" yaml:"fstype"`
	Usage      *types.SpaceUsage `json:"usage,omitempty" yaml:"usage,omitempty"`
	UsedPct    float64           `json:"used_percent,omitempty" yaml:"used_percent,omitempty"`

	// UsageError is set when usage could not be read.
	UsageError string `json:"usage_error,omitempty" yaml:"usage_error,omitempty"`
}

// Inspector reads partition and usage data. The zero value is not usable;
// call New.
type Inspector struct {
	partitions func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
	isBlock    func(path string) (bool, error)
}

// New returns an Inspector backed by gopsutil.
func New() *Inspector {
	return &Inspector{
		partitions: disk.PartitionsWithContext,
		usage:      disk.UsageWithContext,
		isBlock:    isBlockDevice,
	}
}

// Usage returns free, total and used bytes for the filesystem holding path.
// Free is the space available to unprivileged writers.
func (i *Inspector) Usage(ctx context.Context, path string) (types.SpaceUsage, error) {
	u, err := i.usage(ctx, path)
	if err != nil {
		return types.SpaceUsage{}, fmt.Errorf("querying free space of %s: %w", path, err)
	}
	return types.SpaceUsage{
		Path:       path,
		FreeBytes:  u.Free,
		TotalBytes: u.Total,
		UsedBytes:  u.Used,
	}, nil
}

// Partitions lists physical mounted filesystems. A partition whose usage
// cannot be read is still listed, with UsageError set.
func (i *Inspector) Partitions(ctx context.Context) ([]Partition, error) {
	stats, err := i.partitions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}

	parts := make([]Partition, 0, len(stats))
	for _, st := range stats {
		p := Partition{Device: st.Device, Mountpoint: st.Mountpoint, Fstype: st.Fstype}
		u, err := i.usage(ctx, st.Mountpoint)
		if err != nil {
			logger.Debug("usage unavailable", "mountpoint", st.Mountpoint, "error", err)
			p.UsageError = err.Error()
		} else {
			p.Usage = &types.SpaceUsage{
				Path:       st.Mountpoint,
				FreeBytes:  u.Free,
				TotalBytes: u.Total,
				UsedBytes:  u.Used,
			}
			p.UsedPct = u.UsedPercent
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// RawDevices derives whole-disk device paths from every partition the
// system knows about, skipping device-mapper and loop devices, and keeps
// only paths that are block devices. The result is sorted.
func (i *Inspector) RawDevices(ctx context.Context) ([]string, error) {
	stats, err := i.partitions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}

	seen := make(map[string]struct{})
	for _, st := range stats {
		if dev, ok := WholeDisk(st.Device); ok {
			seen[dev] = struct{}{}
		}
	}

	devices := make([]string, 0, len(seen))
	for dev := range seen {
		ok, err := i.isBlock(dev)
		if err != nil {
			logger.Warn("cannot verify device", "device", dev, "error", err)
			continue
		}
		if ok {
			devices = append(devices, dev)
		}
	}
	slices.Sort(devices)
	return devices, nil
}

// WholeDisk maps a partition device such as /dev/sda1 or /dev/nvme0n1p2
// to its disk (/dev/sda, /dev/nvme0n1).
func WholeDisk(device string) (string, bool) {
	if strings.Contains(device, "/dev/mapper/") || strings.HasPrefix(device, "/dev/loop") {
		return "", false
	}
	m := wholeDisk.FindStringSubmatch(device)
	if m == nil {
		return "", false
	}
	return m[1], true
}
