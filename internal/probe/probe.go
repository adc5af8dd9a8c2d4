// Package probe samples host resources and derives admission signals.
//
// A Probe keeps a bounded history of snapshots taken either on demand via
// Sample or by its own periodic loop (Run). Readers never mutate the history;
// they receive copies.
package probe

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Snapshot is a point-in-time view of host resources.
type Snapshot struct {
	Timestamp         time.Time  `json:"timestamp"`
	CPUPercent        float64    `json:"cpu_percent"`
	MemoryPercent     float64    `json:"memory_percent"`
	DiskPercent       float64    `json:"disk_percent"`
	AvailableMemoryGB float64    `json:"available_memory_gb"`
	CPUCount          int        `json:"cpu_count"`
	LoadAverage       [3]float64 `json:"load_average"`
}

// Sampler takes one snapshot of the host.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// Thresholds define when the host counts as overloaded.
type Thresholds struct {
	CPUPercent           float64
	MemoryPercent        float64
	DiskPercent          float64
	MinAvailableMemoryGB float64
	// LoadPerCPU is compared against the 1-minute load average divided by the
	// CPU count.
	LoadPerCPU float64
}

// DefaultThresholds returns the production overload thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:           90,
		MemoryPercent:        85,
		DiskPercent:          95,
		MinAvailableMemoryGB: 1,
		LoadPerCPU:           2,
	}
}

// Options configure a Probe.
type Options struct {
	Thresholds Thresholds
	// Interval between background samples taken by Run.
	Interval time.Duration
	// HistorySize caps the retained snapshots; oldest entries are dropped.
	HistorySize int
	// MaxConcurrency caps OptimalConcurrency.
	MaxConcurrency int
	// MemoryPerTaskGB is the memory budget reserved per concurrent task.
	MemoryPerTaskGB float64
	Clock           Clock
}

// DefaultOptions returns defaults suitable for production use.
func DefaultOptions() Options {
	return Options{
		Thresholds:      DefaultThresholds(),
		Interval:        30 * time.Second,
		HistorySize:     60,
		MaxConcurrency:  4,
		MemoryPerTaskGB: 2,
	}
}

// Probe samples host resources and answers admission questions.
type Probe struct {
	sampler Sampler
	opts    Options

	mu      sync.RWMutex
	history []Snapshot
	lastErr error
}

// New creates a probe. Zero-valued options fall back to DefaultOptions.
func New(sampler Sampler, opts Options) *Probe {
	def := DefaultOptions()
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = def.Thresholds
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = def.HistorySize
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = def.MaxConcurrency
	}
	if opts.MemoryPerTaskGB <= 0 {
		opts.MemoryPerTaskGB = def.MemoryPerTaskGB
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	return &Probe{sampler: sampler, opts: opts}
}

// Sample takes a synchronous snapshot and appends it to the history.
func (p *Probe) Sample(ctx context.Context) (Snapshot, error) {
	snap, err := p.sampler.Sample(ctx)
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return Snapshot{}, fmt.Errorf("sample resources: %w", err)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = p.opts.Clock.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = nil
	p.history = append(p.history, snap)
	if over := len(p.history) - p.opts.HistorySize; over > 0 {
		trimmed := make([]Snapshot, p.opts.HistorySize)
		copy(trimmed, p.history[over:])
		p.history = trimmed
	}
	return snap, nil
}

// Latest returns the most recent snapshot.
func (p *Probe) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.history) == 0 {
		return Snapshot{}, false
	}
	return p.history[len(p.history)-1], true
}

// History returns a copy of the retained snapshots, oldest first.
func (p *Probe) History() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Snapshot, len(p.history))
	copy(out, p.history)
	return out
}

// LastError returns the error from the most recent failed sample, if any.
func (p *Probe) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// IsOverloaded reports whether the most recent sample exceeds any threshold.
// Without any sample the host is not considered overloaded.
func (p *Probe) IsOverloaded() bool {
	snap, ok := p.Latest()
	if !ok {
		return false
	}
	return p.opts.Thresholds.Exceeded(snap)
}

// Exceeded reports whether snap crosses any of the thresholds.
func (t Thresholds) Exceeded(snap Snapshot) bool {
	if snap.CPUPercent > t.CPUPercent {
		return true
	}
	if snap.MemoryPercent > t.MemoryPercent {
		return true
	}
	if snap.DiskPercent > t.DiskPercent {
		return true
	}
	if snap.AvailableMemoryGB < t.MinAvailableMemoryGB {
		return true
	}
	cpus := snap.CPUCount
	if cpus < 1 {
		cpus = 1
	}
	return snap.LoadAverage[0] > float64(cpus)*t.LoadPerCPU
}

// OptimalConcurrency returns how many tasks the host can run at once:
// max(1, min(cpu_count-1, floor(available_gb/memory_per_task), cap)), or 1
// when the host is overloaded. With no history a sample is taken first; if
// that fails the answer is 1.
func (p *Probe) OptimalConcurrency() int {
	snap, ok := p.Latest()
	if !ok {
		var err error
		snap, err = p.Sample(context.Background())
		if err != nil {
			return 1
		}
	}
	return p.concurrencyFor(snap)
}

func (p *Probe) concurrencyFor(snap Snapshot) int {
	if p.opts.Thresholds.Exceeded(snap) {
		return 1
	}
	byCPU := snap.CPUCount - 1
	byMemory := int(math.Floor(snap.AvailableMemoryGB / p.opts.MemoryPerTaskGB))
	n := min(byCPU, byMemory, p.opts.MaxConcurrency)
	return max(1, n)
}

// Run samples every Interval until ctx is done. Sampling errors are recorded
// (see LastError) and do not stop the loop.
func (p *Probe) Run(ctx context.Context) error {
	ticker := p.opts.Clock.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	_, _ = p.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			_, _ = p.Sample(ctx)
		}
	}
}
