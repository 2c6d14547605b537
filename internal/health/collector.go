// Package health collects host metrics for the server and the local
// repositories it writes to.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics contains host metrics collected by the server.
type Metrics struct {
	CPUUsage        float64    `json:"cpu_usage"`
	MemoryUsage     float64    `json:"memory_usage"`
	Disk            *DiskStats `json:"disk,omitempty"`
	UptimeSeconds   int64      `json:"uptime_seconds"`
	ResticVersion   string     `json:"restic_version,omitempty"`
	ResticAvailable bool       `json:"restic_available"`
}

// DiskStats describes the filesystem holding a path.
type DiskStats struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Collector collects host metrics.
type Collector struct {
	startTime    time.Time
	dataDir      string
	resticBinary string
}

// NewCollector creates a collector that reports disk usage for dataDir.
func NewCollector(dataDir, resticBinary string) *Collector {
	return &Collector{
		startTime:    time.Now(),
		dataDir:      dataDir,
		resticBinary: resticBinary,
	}
}

// Collect gathers host metrics. Individual probes that fail leave their
// fields zeroed.
func (c *Collector) Collect(ctx context.Context) (*Metrics, error) {
	m := &Metrics{
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	// A zero interval compares against the previous call and never blocks.
	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		m.CPUUsage = cpuPercent[0]
	}

	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryUsage = memStat.UsedPercent
	}

	if c.dataDir != "" {
		if stats, err := DiskUsage(ctx, c.dataDir); err == nil {
			m.Disk = stats
		}
	}

	m.ResticVersion, m.ResticAvailable = ResticVersion(ctx, c.resticBinary)
	return m, nil
}

// DiskUsage reports usage of the filesystem holding path. A path that does
// not exist yet is measured at its nearest existing parent, which is where
// restic would create it.
func DiskUsage(ctx context.Context, path string) (*DiskStats, error) {
	dir, err := existingParent(path)
	if err != nil {
		return nil, err
	}

	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("disk usage of %s: %w", dir, err)
	}

	return &DiskStats{
		Path:        path,
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedBytes:   usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}

func existingParent(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for {
		_, err := os.Stat(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %s", path)
		}
		dir = parent
	}
}

// ResticVersion runs "restic version" and returns the version number.
func ResticVersion(ctx context.Context, binary string) (string, bool) {
	if binary == "" {
		binary = "restic"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "version").Output()
	if err != nil {
		return "", false
	}

	// "restic 0.16.0 compiled with go1.21.0 on linux/amd64"
	version := strings.TrimSpace(string(output))
	if parts := strings.Fields(version); len(parts) >= 2 {
		return parts[1], true
	}
	return version, true
}
