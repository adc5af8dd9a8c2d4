package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nibzard/parallax/internal/logging"
	"github.com/nibzard/parallax/internal/task"
)

// ContainerWorkdir is where the task's working directory is mounted.
const ContainerWorkdir = "/workspace"

// cleanupTimeout bounds stop/remove calls made after the task context ended.
const cleanupTimeout = 30 * time.Second

// ContainerSpec describes one container to create.
type ContainerSpec struct {
	Name        string
	Image       string
	Cmd         []string
	WorkingDir  string
	Binds       []string
	NanoCPUs    int64
	MemoryBytes int64
	Network     string
	Labels      map[string]string
}

// Runtime is the subset of a container engine the backend needs.
type Runtime interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, id string) error
	// Wait blocks until the container exits and returns its exit code.
	Wait(ctx context.Context, id string) (int64, error)
	Logs(ctx context.Context, id string, stdout, stderr io.Writer) error
	Stats(ctx context.Context, id string) (Usage, error)
	Stop(ctx context.Context, id string, grace time.Duration) error
	Remove(ctx context.Context, id string) error
	Close() error
}

// ContainerOptions configure a ContainerBackend.
type ContainerOptions struct {
	Image    string
	CPUs     float64
	MemoryMB int64
	Network  string
	// AutomationFlags are appended to every generated command.
	AutomationFlags []string
	GracePeriod     time.Duration
	// Retries is how many times a failed create or start is retried.
	Retries      int
	RetryBackoff time.Duration
	// StatsInterval is the sampling period for resource usage.
	StatsInterval time.Duration
	Logger        *log.Logger
	Now           func() time.Time
}

// ContainerBackend runs each task in a fresh container with explicit CPU and
// memory limits. The container is always removed before Run returns.
type ContainerBackend struct {
	rt   Runtime
	gen  CommandGenerator
	opts ContainerOptions
}

// NewContainer pings rt and returns a backend bound to it. An unreachable
// runtime yields ErrRuntimeUnavailable.
func NewContainer(ctx context.Context, rt Runtime, gen CommandGenerator, opts ContainerOptions) (*ContainerBackend, error) {
	if err := rt.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ContainerBackend{rt: rt, gen: gen, opts: opts}, nil
}

// Name implements Backend.
func (b *ContainerBackend) Name() string { return "container" }

// Close implements Backend.
func (b *ContainerBackend) Close() error { return b.rt.Close() }

// Run implements Backend.
func (b *ContainerBackend) Run(ctx context.Context, rec task.Record, workdir string, timeout time.Duration) Result {
	res := startResult(rec, b.opts.Now())
	logger := b.opts.Logger.With("task", rec.ID)

	argv, err := b.gen.Command(ctx, rec, workdir)
	if err == nil && len(argv) == 0 {
		err = errors.New("empty command")
	}
	if err != nil {
		res.launchFailure(fmt.Errorf("generate command: %w", err), b.opts.Now())
		return res
	}

	runCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	spec := b.spec(rec, workdir, argv)
	id, attempts, err := b.launch(runCtx, spec)
	res.Attempts = attempts
	if err != nil {
		if s, ended := outcome(ctx, runCtx); ended {
			res.ExitCode = ExitCodeLaunchFailure
			res.Error = interruptedMessage(rec.ID, s, timeout)
			res.finish(s, b.opts.Now())
			return res
		}
		res.launchFailure(err, b.opts.Now())
		return res
	}
	defer b.remove(id, logger)
	logger.Debug("container started", "id", shortID(id), "image", spec.Image)

	monitor := b.monitor(runCtx, id)
	exitCode, waitErr := b.rt.Wait(runCtx, id)
	res.Usage = monitor.stop()

	status := StatusSuccess
	if waitErr != nil {
		status = StatusFailed
		res.ExitCode = ExitCodeLaunchFailure
		res.Error = fmt.Sprintf("wait for container: %v", waitErr)
		if s, ended := outcome(ctx, runCtx); ended {
			status = s
			res.Error = interruptedMessage(rec.ID, s, timeout)
			b.stop(id, logger)
		}
	} else {
		res.ExitCode = int(exitCode)
		if exitCode != 0 {
			status = StatusFailed
			res.Error = fmt.Sprintf("container exited with code %d", exitCode)
		}
	}

	var stdout, stderr bytes.Buffer
	logCtx, logCancel := context.WithTimeout(context.Background(), cleanupTimeout)
	if err := b.rt.Logs(logCtx, id, &stdout, &stderr); err != nil {
		logger.Warn("collect container logs", "err", err)
	}
	logCancel()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.finish(status, b.opts.Now())

	out, err := writeResults(workdir, res)
	if err != nil {
		logger.Warn("write task results", "err", err)
	} else {
		res.OutputFile = out
	}
	return res
}

func (b *ContainerBackend) spec(rec task.Record, workdir string, argv []string) ContainerSpec {
	cmd := make([]string, 0, len(argv)+len(b.opts.AutomationFlags))
	cmd = append(cmd, argv...)
	cmd = append(cmd, b.opts.AutomationFlags...)
	return ContainerSpec{
		Image:       b.opts.Image,
		Cmd:         cmd,
		WorkingDir:  ContainerWorkdir,
		Binds:       []string{workdir + ":" + ContainerWorkdir},
		NanoCPUs:    int64(b.opts.CPUs * 1e9),
		MemoryBytes: b.opts.MemoryMB * 1024 * 1024,
		Network:     b.opts.Network,
		Labels: map[string]string{
			"parallax.task": rec.ID,
		},
	}
}

// launch creates and starts the container, retrying failures with linear
// backoff. It returns the number of attempts made.
func (b *ContainerBackend) launch(ctx context.Context, spec ContainerSpec) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= b.opts.Retries+1; attempt++ {
		if attempt > 1 {
			delay := b.opts.RetryBackoff * time.Duration(attempt-1)
			b.opts.Logger.Debug("retrying container launch", "attempt", attempt, "delay", delay, "err", lastErr)
			select {
			case <-ctx.Done():
				return "", attempt - 1, ctx.Err()
			case <-time.After(delay):
			}
		}

		id, err := b.rt.Create(ctx, spec)
		if err != nil {
			lastErr = fmt.Errorf("create container: %w", err)
			if ctx.Err() != nil {
				return "", attempt, lastErr
			}
			continue
		}
		if err := b.rt.Start(ctx, id); err != nil {
			lastErr = fmt.Errorf("start container: %w", err)
			b.remove(id, b.opts.Logger)
			if ctx.Err() != nil {
				return "", attempt, lastErr
			}
			continue
		}
		return id, attempt, nil
	}
	return "", b.opts.Retries + 1, lastErr
}

func (b *ContainerBackend) stop(id string, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout+b.opts.GracePeriod)
	defer cancel()
	if err := b.rt.Stop(ctx, id, b.opts.GracePeriod); err != nil {
		logger.Warn("stop container", "id", shortID(id), "err", err)
	}
}

func (b *ContainerBackend) remove(id string, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := b.rt.Remove(ctx, id); err != nil {
		logger.Warn("remove container", "id", shortID(id), "err", err)
	}
}

// usageMonitor samples container stats until stopped, keeping peaks.
type usageMonitor struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	usage Usage
}

func (b *ContainerBackend) monitor(ctx context.Context, id string) *usageMonitor {
	ctx, cancel := context.WithCancel(ctx)
	m := &usageMonitor{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(b.opts.StatsInterval)
		defer ticker.Stop()
		for {
			if u, err := b.rt.Stats(ctx, id); err == nil {
				m.observe(u)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return m
}

func (m *usageMonitor) observe(u Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.PeakMemoryBytes = max(m.usage.PeakMemoryBytes, u.PeakMemoryBytes)
	m.usage.CPUTime = max(m.usage.CPUTime, u.CPUTime)
	m.usage.NetworkRxBytes = max(m.usage.NetworkRxBytes, u.NetworkRxBytes)
	m.usage.NetworkTxBytes = max(m.usage.NetworkTxBytes, u.NetworkTxBytes)
}

func (m *usageMonitor) stop() Usage {
	m.cancel()
	<-m.done
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
