package analyzer

import "github.com/nibzard/parallax/internal/task"

const (
	minutesPerFile     = 15
	maxDurationMinutes = 480
)

var baseDuration = map[task.Complexity]int{
	task.ComplexityLow:      30,
	task.ComplexityMedium:   60,
	task.ComplexityHigh:     120,
	task.ComplexityCritical: 240,
}

// resourceTiers are the baseline requirements per complexity.
var resourceTiers = map[task.Complexity]task.Resources{
	task.ComplexityLow:      {CPU: 1, MemoryMB: 512, DiskMB: 100},
	task.ComplexityMedium:   {CPU: 1, MemoryMB: 1024, DiskMB: 200},
	task.ComplexityHigh:     {CPU: 2, MemoryMB: 2048, DiskMB: 500},
	task.ComplexityCritical: {CPU: 4, MemoryMB: 4096, DiskMB: 1000},
}

// estimateDuration returns the expected minutes for a task.
func estimateDuration(c task.Complexity, files int) int {
	d := baseDuration[c] + minutesPerFile*files
	if d > maxDurationMinutes {
		return maxDurationMinutes
	}
	return d
}

// estimateResources scales the complexity tier by 10% per file, up to 10 files.
func estimateResources(c task.Complexity, files int) task.Resources {
	tier, ok := resourceTiers[c]
	if !ok {
		tier = resourceTiers[task.ComplexityLow]
	}
	tenths := 10 + min(max(files, 0), 10)
	return task.Resources{
		CPU:      tier.CPU,
		MemoryMB: tier.MemoryMB * tenths / 10,
		DiskMB:   tier.DiskMB * tenths / 10,
	}
}
