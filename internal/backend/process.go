package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nibzard/parallax/internal/logging"
	"github.com/nibzard/parallax/internal/task"
)

// DefaultGracePeriod is how long a terminated task may take to exit before
// it is killed.
const DefaultGracePeriod = 10 * time.Second

// ProcessOptions configure a ProcessBackend.
type ProcessOptions struct {
	GracePeriod time.Duration
	Logger      *log.Logger
	// Now is used for result timestamps. Defaults to time.Now.
	Now func() time.Time
}

// ProcessBackend runs each task as a local subprocess in its working
// directory.
type ProcessBackend struct {
	gen    CommandGenerator
	grace  time.Duration
	logger *log.Logger
	now    func() time.Time

	mu     sync.Mutex
	active map[*exec.Cmd]string
}

// NewProcess creates a subprocess backend.
func NewProcess(gen CommandGenerator, opts ProcessOptions) *ProcessBackend {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ProcessBackend{
		gen:    gen,
		grace:  opts.GracePeriod,
		logger: opts.Logger,
		now:    opts.Now,
		active: make(map[*exec.Cmd]string),
	}
}

// Name implements Backend.
func (b *ProcessBackend) Name() string { return "process" }

// Close implements Backend. Running processes are owned by their Run calls,
// which terminate them when their contexts end.
func (b *ProcessBackend) Close() error { return nil }

// Active returns the number of processes currently running.
func (b *ProcessBackend) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// Run implements Backend.
func (b *ProcessBackend) Run(ctx context.Context, rec task.Record, workdir string, timeout time.Duration) Result {
	res := startResult(rec, b.now())

	argv, err := b.gen.Command(ctx, rec, workdir)
	if err == nil && len(argv) == 0 {
		err = errors.New("empty command")
	}
	if err != nil {
		res.launchFailure(fmt.Errorf("generate command: %w", err), b.now())
		return res
	}

	runCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminate(cmd) }
	cmd.WaitDelay = b.grace

	if err := cmd.Start(); err != nil {
		res.launchFailure(fmt.Errorf("start %s: %w", argv[0], err), b.now())
		return res
	}
	b.track(cmd, rec.ID)
	b.logger.Debug("task started", "task", rec.ID, "pid", cmd.Process.Pid, "command", argv[0])

	waitErr := cmd.Wait()
	// The leader is gone; take down anything it left behind in its group.
	killGroup(cmd)
	b.untrack(cmd)

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.ExitCode = exitCodeFromError(waitErr)
	if state := cmd.ProcessState; state != nil {
		res.Usage.CPUTime = state.UserTime() + state.SystemTime()
		res.Usage.PeakMemoryBytes = peakMemory(state)
	}

	status := StatusSuccess
	if waitErr != nil {
		status = StatusFailed
		res.Error = waitErr.Error()
		if s, ended := outcome(ctx, runCtx); ended {
			status = s
			res.Error = interruptedMessage(rec.ID, s, timeout)
		}
	}
	res.finish(status, b.now())

	out, err := writeResults(workdir, res)
	if err != nil {
		b.logger.Warn("write task results", "task", rec.ID, "err", err)
	} else {
		res.OutputFile = out
	}
	return res
}

func (b *ProcessBackend) track(cmd *exec.Cmd, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active[cmd] = id
}

func (b *ProcessBackend) untrack(cmd *exec.Cmd) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, cmd)
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return ExitCodeLaunchFailure
}
