package probe

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

const bytesPerGB = 1024 * 1024 * 1024

// HostSampler samples the local host through gopsutil.
type HostSampler struct {
	// DiskPath is the mount point whose usage is reported. Defaults to "/".
	DiskPath string
	// CPUWindow is how long CPU utilisation is measured per sample. Zero
	// compares against the previous call.
	CPUWindow time.Duration
}

// NewHostSampler returns a sampler for the filesystem containing diskPath.
func NewHostSampler(diskPath string) *HostSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSampler{DiskPath: diskPath, CPUWindow: 200 * time.Millisecond}
}

// Sample implements Sampler.
func (h *HostSampler) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Timestamp: time.Now()}

	percents, err := cpu.PercentWithContext(ctx, h.CPUWindow, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cpu percent: %w", err)
	}
	if len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil || counts < 1 {
		counts = runtime.NumCPU()
	}
	snap.CPUCount = counts

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("virtual memory: %w", err)
	}
	snap.MemoryPercent = vm.UsedPercent
	snap.AvailableMemoryGB = float64(vm.Available) / bytesPerGB

	path := h.DiskPath
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("disk usage %s: %w", path, err)
	}
	snap.DiskPercent = usage.UsedPercent

	// Load averages are unavailable on some platforms; leave them zero.
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.LoadAverage = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}

	return snap, nil
}
