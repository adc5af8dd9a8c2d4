package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSampler struct {
	mu    sync.Mutex
	snaps []Snapshot
	err   error
	calls int
}

func (f *fakeSampler) Sample(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Snapshot{}, f.err
	}
	if len(f.snaps) == 0 {
		return Snapshot{}, nil
	}
	s := f.snaps[0]
	if len(f.snaps) > 1 {
		f.snaps = f.snaps[1:]
	}
	return s, nil
}

func (f *fakeSampler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	now    time.Time
	ticker *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ticker: &fakeTicker{ch: make(chan time.Time)},
	}
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) NewTicker(time.Duration) Ticker { return c.ticker }

type fakeTicker struct {
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop() { t.stopped = true }

func idle(cpus int, availGB float64) Snapshot {
	return Snapshot{
		CPUPercent:        20,
		MemoryPercent:     25,
		DiskPercent:       40,
		AvailableMemoryGB: availGB,
		CPUCount:          cpus,
		LoadAverage:       [3]float64{0.5, 0.5, 0.5},
	}
}

func TestOptimalConcurrency(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		cap  int
		want int
	}{
		{"capped by configured limit", idle(8, 8), 4, 4},
		{"bounded by memory", idle(8, 5), 4, 2},
		{"bounded by cpu", idle(3, 32), 8, 2},
		{"single cpu still admits one", idle(1, 32), 4, 1},
		{"low memory floor", idle(8, 1.5), 4, 1},
		{"overloaded cpu", func() Snapshot { s := idle(8, 8); s.CPUPercent = 95; return s }(), 4, 1},
		{"overloaded load", func() Snapshot { s := idle(2, 8); s.LoadAverage[0] = 4.5; return s }(), 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(&fakeSampler{snaps: []Snapshot{tt.snap}}, Options{MaxConcurrency: tt.cap, Clock: newFakeClock()})
			if got := p.OptimalConcurrency(); got != tt.want {
				t.Errorf("OptimalConcurrency() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOptimalConcurrencyMonotonic(t *testing.T) {
	p := New(&fakeSampler{}, Options{MaxConcurrency: 16})
	prev := 0
	for gb := 0.0; gb <= 64; gb += 0.5 {
		got := p.concurrencyFor(idle(32, gb))
		if got < 1 || got > 16 {
			t.Fatalf("concurrency %d out of bounds at %.1f GB", got, gb)
		}
		if gb >= 1 && got < prev {
			t.Fatalf("concurrency decreased from %d to %d at %.1f GB", prev, got, gb)
		}
		prev = got
	}
}

func TestOptimalConcurrencySamplesWithoutHistory(t *testing.T) {
	s := &fakeSampler{snaps: []Snapshot{idle(8, 8)}}
	p := New(s, Options{Clock: newFakeClock()})
	if got := p.OptimalConcurrency(); got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
	if s.Calls() != 1 {
		t.Errorf("expected one synchronous sample, got %d", s.Calls())
	}
	p.OptimalConcurrency()
	if s.Calls() != 1 {
		t.Errorf("expected cached sample to be reused, got %d calls", s.Calls())
	}

	failing := New(&fakeSampler{err: errors.New("no proc")}, Options{})
	if got := failing.OptimalConcurrency(); got != 1 {
		t.Errorf("expected 1 when sampling fails, got %d", got)
	}
	if failing.LastError() == nil {
		t.Error("expected LastError to be recorded")
	}
}

func TestIsOverloaded(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
		want   bool
	}{
		{"idle", func(*Snapshot) {}, false},
		{"cpu", func(s *Snapshot) { s.CPUPercent = 91 }, true},
		{"memory", func(s *Snapshot) { s.MemoryPercent = 86 }, true},
		{"disk", func(s *Snapshot) { s.DiskPercent = 96 }, true},
		{"available memory", func(s *Snapshot) { s.AvailableMemoryGB = 0.5 }, true},
		{"load", func(s *Snapshot) { s.LoadAverage[0] = 17 }, true},
		{"at thresholds", func(s *Snapshot) { s.CPUPercent = 90; s.MemoryPercent = 85; s.DiskPercent = 95 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := idle(8, 8)
			tt.mutate(&snap)
			p := New(&fakeSampler{snaps: []Snapshot{snap}}, Options{})
			if p.IsOverloaded() {
				t.Fatal("expected no overload before first sample")
			}
			if _, err := p.Sample(context.Background()); err != nil {
				t.Fatal(err)
			}
			if got := p.IsOverloaded(); got != tt.want {
				t.Errorf("IsOverloaded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHistoryBounded(t *testing.T) {
	clock := newFakeClock()
	p := New(&fakeSampler{snaps: []Snapshot{idle(4, 4)}}, Options{HistorySize: 3, Clock: clock})
	for i := 0; i < 5; i++ {
		clock.now = clock.now.Add(time.Minute)
		if _, err := p.Sample(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	hist := p.History()
	if len(hist) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(hist))
	}
	if !hist[0].Timestamp.Before(hist[2].Timestamp) {
		t.Error("expected oldest snapshot first")
	}
	last, _ := p.Latest()
	if !last.Timestamp.Equal(clock.now) {
		t.Errorf("latest timestamp %v, want %v", last.Timestamp, clock.now)
	}

	hist[0].CPUPercent = 99
	if p.History()[0].CPUPercent == 99 {
		t.Error("History must return a copy")
	}
}

func TestRunSamplesOnTicks(t *testing.T) {
	clock := newFakeClock()
	s := &fakeSampler{snaps: []Snapshot{idle(4, 4)}}
	p := New(s, Options{Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Unbuffered sends only complete once the loop is receiving.
	clock.ticker.ch <- clock.now
	clock.ticker.ch <- clock.now
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if s.Calls() < 2 {
		t.Errorf("expected at least 2 samples, got %d", s.Calls())
	}
	if !clock.ticker.stopped {
		t.Error("expected ticker to be stopped")
	}
}
