// Package backend runs a single task attempt in an isolated environment.
//
// Two variants exist: a local subprocess and a container on a Docker-
// compatible runtime. Both honor a per-task timeout, capture output, write
// results into the task's working directory, and release every handle they
// acquire before Run returns.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nibzard/parallax/internal/task"
)

// Status is the terminal state of one task attempt.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// ExitCodeLaunchFailure is reported when the task never started.
const ExitCodeLaunchFailure = -1

// Files written under <workdir>/results.
const (
	ResultsDir = "results"
	StdoutFile = "stdout.log"
	StderrFile = "stderr.log"
	OutputFile = "output.json"
)

var (
	// ErrRuntimeUnavailable means the container runtime could not be reached.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	// ErrNoBackend means no usable backend could be initialized.
	ErrNoBackend = errors.New("no execution backend available")
)

// Usage is best-effort resource accounting for one attempt.
type Usage struct {
	PeakMemoryBytes uint64        `json:"peak_memory_bytes,omitempty"`
	CPUTime         time.Duration `json:"cpu_time,omitempty"`
	NetworkRxBytes  uint64        `json:"network_rx_bytes,omitempty"`
	NetworkTxBytes  uint64        `json:"network_tx_bytes,omitempty"`
}

// Result describes how one task attempt ended.
type Result struct {
	TaskID     string        `json:"task_id"`
	TaskName   string        `json:"task_name"`
	Status     Status        `json:"status"`
	StartedAt  time.Time     `json:"start_time"`
	FinishedAt time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	OutputFile string        `json:"output_file,omitempty"`
	Error      string        `json:"error_message,omitempty"`
	Usage      Usage         `json:"resource_usage"`
	Attempts   int           `json:"attempts,omitempty"`
}

// Backend runs task attempts. Implementations must be safe for concurrent
// use; the engine calls Run from several goroutines at once.
type Backend interface {
	Name() string
	// Run executes rec in workdir and always returns a terminal result. A
	// timeout <= 0 disables the deadline. Cancelling ctx terminates the
	// attempt with StatusCancelled.
	Run(ctx context.Context, rec task.Record, workdir string, timeout time.Duration) Result
	Close() error
}

// CommandGenerator turns a task into the argv executed for it.
type CommandGenerator interface {
	Command(ctx context.Context, rec task.Record, workdir string) ([]string, error)
}

// CommandGeneratorFunc adapts a function to CommandGenerator.
type CommandGeneratorFunc func(ctx context.Context, rec task.Record, workdir string) ([]string, error)

// Command implements CommandGenerator.
func (f CommandGeneratorFunc) Command(ctx context.Context, rec task.Record, workdir string) ([]string, error) {
	return f(ctx, rec, workdir)
}

func startResult(rec task.Record, now time.Time) Result {
	return Result{
		TaskID:    rec.ID,
		TaskName:  rec.Name,
		StartedAt: now,
		Attempts:  1,
	}
}

func (r *Result) finish(status Status, now time.Time) {
	r.Status = status
	r.FinishedAt = now
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
}

func (r *Result) launchFailure(err error, now time.Time) {
	r.ExitCode = ExitCodeLaunchFailure
	r.Error = err.Error()
	r.finish(StatusFailed, now)
}

// Skipped builds the result for a task that never reached a backend.
func Skipped(rec task.Record, reason string, now time.Time) Result {
	r := startResult(rec, now)
	r.Attempts = 0
	r.Error = reason
	r.finish(StatusSkipped, now)
	return r
}

// Cancelled builds the result for a task cancelled before dispatch.
func Cancelled(rec task.Record, now time.Time) Result {
	r := startResult(rec, now)
	r.Attempts = 0
	r.Error = "cancelled before dispatch"
	r.finish(StatusCancelled, now)
	return r
}

// writeResults stores captured output under <workdir>/results and returns
// the path of output.json. When stdout is a JSON document it is written
// verbatim, otherwise it is wrapped.
func writeResults(workdir string, res Result) (string, error) {
	dir := filepath.Join(workdir, ResultsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, StdoutFile), []byte(res.Stdout), 0644); err != nil {
		return "", fmt.Errorf("write stdout: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, StderrFile), []byte(res.Stderr), 0644); err != nil {
		return "", fmt.Errorf("write stderr: %w", err)
	}

	var output []byte
	if json.Valid([]byte(res.Stdout)) {
		output = []byte(res.Stdout)
	} else {
		wrapped, err := json.MarshalIndent(map[string]any{
			"task_id":    res.TaskID,
			"status":     res.Status,
			"exit_code":  res.ExitCode,
			"raw_output": res.Stdout,
		}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode output: %w", err)
		}
		output = wrapped
	}
	path := filepath.Join(dir, OutputFile)
	if err := os.WriteFile(path, output, 0644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return path, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// outcome maps the state of the parent and attempt contexts to a status for
// an attempt that did not exit on its own.
func outcome(parent, attempt context.Context) (Status, bool) {
	switch {
	case parent.Err() != nil:
		return StatusCancelled, true
	case errors.Is(attempt.Err(), context.DeadlineExceeded):
		return StatusTimeout, true
	}
	return "", false
}

func interruptedMessage(id string, status Status, timeout time.Duration) string {
	if status == StatusTimeout {
		return fmt.Sprintf("task %s timed out after %s", id, timeout)
	}
	return fmt.Sprintf("task %s cancelled", id)
}
