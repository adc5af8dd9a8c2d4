package engine

import (
	"math"
	"sync"
	"time"

	"github.com/nibzard/parallax/internal/backend"
)

// Statistics summarizes a run. FailedTasks includes timed-out tasks;
// TimedOutTasks breaks them out.
type Statistics struct {
	TotalTasks     int    `json:"total_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	FailedTasks    int    `json:"failed_tasks"`
	TimedOutTasks  int    `json:"timed_out_tasks"`
	CancelledTasks int    `json:"cancelled_tasks"`
	SkippedTasks   int    `json:"skipped_tasks"`
	ExecutionMode  string `json:"execution_mode"`
	// SequentialTime is the sum of task durations in seconds.
	SequentialTime float64 `json:"sequential_time"`
	// ParallelTime is the wall-clock duration of the run in seconds.
	ParallelTime     float64   `json:"parallel_time"`
	SpeedImprovement float64   `json:"speed_improvement"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
}

// collector accumulates results and statistics as tasks finish.
type collector struct {
	mu         sync.Mutex
	stats      Statistics
	results    map[string]backend.Result
	sequential time.Duration
}

func newCollector(mode string, total int, start time.Time) *collector {
	return &collector{
		stats: Statistics{
			TotalTasks:    total,
			ExecutionMode: mode,
			StartTime:     start,
		},
		results: make(map[string]backend.Result, total),
	}
}

func (c *collector) record(res backend.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.results[res.TaskID]; dup {
		return
	}
	c.results[res.TaskID] = res
	c.sequential += res.Duration

	switch res.Status {
	case backend.StatusSuccess:
		c.stats.CompletedTasks++
	case backend.StatusTimeout:
		c.stats.TimedOutTasks++
		c.stats.FailedTasks++
	case backend.StatusFailed:
		c.stats.FailedTasks++
	case backend.StatusCancelled:
		c.stats.CancelledTasks++
	case backend.StatusSkipped:
		c.stats.SkippedTasks++
	}
}

// snapshot returns the current statistics.
func (c *collector) snapshot() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// finish stamps the end time and returns the final statistics and a copy of
// the results.
func (c *collector) finish(end time.Time) (Statistics, map[string]backend.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.EndTime = end
	c.stats.SequentialTime = roundSeconds(c.sequential)
	wall := end.Sub(c.stats.StartTime)
	c.stats.ParallelTime = roundSeconds(wall)
	if wall > 0 {
		c.stats.SpeedImprovement = math.Round(float64(c.sequential)/float64(wall)*100) / 100
	}

	results := make(map[string]backend.Result, len(c.results))
	for id, r := range c.results {
		results[id] = r
	}
	return c.stats, results
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
