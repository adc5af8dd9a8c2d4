// Package engine schedules analyzed execution groups onto a backend.
//
// Groups run strictly in order with a full barrier between them. Within a
// group, tasks are admitted up to a concurrency limit derived from the caller
// and the resource probe. A task's failure never stops the run; only
// cancellation does.
package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nibzard/parallax/internal/backend"
	"github.com/nibzard/parallax/internal/logging"
	"github.com/nibzard/parallax/internal/observability"
	"github.com/nibzard/parallax/internal/parallel"
	"github.com/nibzard/parallax/internal/task"
	"github.com/nibzard/parallax/internal/workspace"
)

// ErrAlreadyRunning is returned by Run while another Run is active.
var ErrAlreadyRunning = errors.New("engine is already running")

// ConcurrencySource reports how many tasks the host can take right now.
type ConcurrencySource interface {
	OptimalConcurrency() int
}

// Option configures an Engine.
type Option func(*Engine)

// WithProbe bounds admission by the probe's OptimalConcurrency.
func WithProbe(p ConcurrencySource) Option {
	return func(e *Engine) { e.probe = p }
}

// WithResolver sets the worktree resolver.
func WithResolver(r workspace.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer records run, group, and task spans on t.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithObserver adds an event observer. It may be given more than once.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithClock replaces time.Now for timestamps and statistics.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRunID fixes the run ID instead of generating one per run.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// DefaultWorktreeRoot is used when no resolver is configured.
func DefaultWorktreeRoot() string {
	return filepath.Join(os.TempDir(), "parallax-worktrees")
}

// Engine runs execution groups. One Engine runs at most one batch at a time.
type Engine struct {
	backend   backend.Backend
	probe     ConcurrencySource
	resolver  workspace.Resolver
	logger    *log.Logger
	tracer    trace.Tracer
	observers []Observer
	now       func() time.Time
	runID     string

	running atomic.Bool

	mu      sync.Mutex
	current *run
}

// run is the state of one active Run call.
type run struct {
	id      string
	cancel  context.CancelFunc
	handles *handleRegistry
	states  *stateMachine
	results *collector

	cancelOnce sync.Once
}

// New creates an engine for b.
func New(b backend.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: b,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.resolver == nil {
		e.resolver = workspace.DirResolver{Root: DefaultWorktreeRoot(), Create: true}
	}
	return e
}

// Running reports whether a Run is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run executes groups in order and returns the report. Individual task
// failures are recorded in the report; the returned error is reserved for
// structural failures. A cancelled run still returns a complete report in
// which every task not yet dispatched is marked cancelled.
func (e *Engine) Run(ctx context.Context, groups []task.Group, maxConcurrent int, defaultTimeout time.Duration) (*Report, error) {
	if e.backend == nil {
		return nil, backend.ErrNoBackend
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ids []string
	for _, g := range groups {
		ids = append(ids, g.TaskIDs()...)
	}
	runID := e.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	r := &run{
		id:      runID,
		cancel:  cancel,
		handles: newHandleRegistry(),
		states:  newStateMachine(ids),
		results: newCollector(e.backend.Name(), len(ids), e.now()),
	}

	if !e.attach(r) {
		return nil, ErrAlreadyRunning
	}
	defer e.detach(r)

	runCtx, span := observability.StartSpan(runCtx, e.tracer, "parallax.run",
		attribute.String("run.id", runID),
		attribute.String("backend", e.backend.Name()),
		attribute.Int("run.groups", len(groups)),
		attribute.Int("run.tasks", len(ids)),
	)
	defer span.End()

	logger := e.logger.With("run", runID)
	logger.Info("run started", "groups", len(groups), "tasks", len(ids), "backend", e.backend.Name())
	e.emit(Event{Type: EventRunStarted, RunID: runID, Tasks: len(ids)})

	for _, g := range groups {
		if runCtx.Err() != nil {
			e.cancelPending(r, g.Tasks)
			continue
		}
		e.runGroup(runCtx, r, g, maxConcurrent, defaultTimeout)
	}

	// CancelAll is a no-op from here on.
	e.detach(r)

	stats, results := r.results.finish(e.now())
	if runCtx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
	}
	logger.Info("run finished",
		"completed", stats.CompletedTasks,
		"failed", stats.FailedTasks,
		"cancelled", stats.CancelledTasks,
		"skipped", stats.SkippedTasks,
		"elapsed", stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond),
	)
	e.emit(Event{Type: EventRunFinished, RunID: runID, Tasks: len(ids), Stats: &stats})

	return &Report{
		RunID:            runID,
		ExecutionSummary: Summary{Statistics: stats},
		TaskResults:      results,
	}, nil
}

// attach makes r the active run. It fails if another run is active.
func (e *Engine) attach(r *run) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		return false
	}
	e.current = r
	e.running.Store(true)
	return true
}

func (e *Engine) detach(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == r {
		e.current = nil
		e.running.Store(false)
	}
}

// CancelAll terminates every in-flight task and stops admission. Completed
// results are kept. Calling it with no active run, or more than once, does
// nothing.
//
// The cancel_requested event is emitted while the run is still attached, so
// observers never see it after Run has returned. Observers must not call
// back into CancelAll.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.current
	if r == nil {
		return
	}
	r.cancelOnce.Do(func() {
		r.cancel()
		n := r.handles.cancelAll()
		e.logger.Warn("cancelling run", "run", r.id, "in_flight", n)
		e.emit(Event{Type: EventCancelRequested, RunID: r.id, Tasks: n})
	})
}

// admission returns how many tasks of a group of size n may run at once.
func (e *Engine) admission(n, maxConcurrent int) int {
	limit := n
	if maxConcurrent > 0 && maxConcurrent < limit {
		limit = maxConcurrent
	}
	if e.probe != nil {
		if p := e.probe.OptimalConcurrency(); p < limit {
			limit = p
		}
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (e *Engine) runGroup(ctx context.Context, r *run, g task.Group, maxConcurrent int, defaultTimeout time.Duration) {
	admitted := e.admission(len(g.Tasks), maxConcurrent)
	ctx, span := observability.StartSpan(ctx, e.tracer, "parallax.group",
		attribute.Int("group.id", g.ID),
		attribute.Int("group.tasks", len(g.Tasks)),
		attribute.Int("group.admitted", admitted),
	)
	defer span.End()

	e.logger.Debug("group started", "run", r.id, "group", g.ID, "tasks", len(g.Tasks), "admitted", admitted)
	e.emit(Event{Type: EventGroupStarted, RunID: r.id, GroupID: g.ID, Tasks: len(g.Tasks), Admitted: admitted})

	pool := parallel.NewWorkerPool(ctx, admitted)
	for _, rec := range g.Tasks {
		pool.Submit(rec.ID, func(ctx context.Context) {
			e.runTask(ctx, r, g.ID, rec, defaultTimeout)
		})
	}
	started, notStarted := pool.Wait()
	e.logger.Debug("group finished", "run", r.id, "group", g.ID, "started", started, "not_started", len(notStarted))

	if len(notStarted) > 0 {
		skipped := make(map[string]bool, len(notStarted))
		for _, id := range notStarted {
			skipped[id] = true
		}
		var pending []task.Record
		for _, rec := range g.Tasks {
			if skipped[rec.ID] {
				pending = append(pending, rec)
			}
		}
		e.cancelPending(r, pending)
	}

	e.emit(Event{Type: EventGroupFinished, RunID: r.id, GroupID: g.ID, Tasks: len(g.Tasks)})
}

func (e *Engine) runTask(ctx context.Context, r *run, groupID int, rec task.Record, defaultTimeout time.Duration) {
	if err := r.states.transition(rec.ID, StateDispatched); err != nil {
		e.logger.Warn("task not dispatched", "run", r.id, "task", rec.ID, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.handles.insert(rec.ID, cancel)
	defer r.handles.remove(rec.ID)

	ctx, span := observability.StartSpan(ctx, e.tracer, "parallax.task",
		attribute.String("task.id", rec.ID),
		attribute.String("task.type", string(rec.Type)),
		attribute.Int("group.id", groupID),
	)
	defer span.End()

	e.emit(Event{Type: EventTaskStarted, RunID: r.id, GroupID: groupID, TaskID: rec.ID})

	var res backend.Result
	workdir, err := e.resolver.Resolve(ctx, rec.ID)
	switch {
	case err != nil && ctx.Err() != nil:
		res = backend.Cancelled(rec, e.now())
	case err != nil:
		e.logger.Warn("worktree unavailable, skipping task", "run", r.id, "task", rec.ID, "err", err)
		res = backend.Skipped(rec, err.Error(), e.now())
	default:
		res = e.backend.Run(ctx, rec, workdir, taskTimeout(rec, defaultTimeout))
	}

	e.finishTask(r, groupID, res)
	span.SetAttributes(
		attribute.String("task.status", string(res.Status)),
		attribute.Int("task.exit_code", res.ExitCode),
	)
	if res.Status != backend.StatusSuccess {
		span.SetStatus(codes.Error, res.Error)
	}
}

// taskTimeout prefers an explicit timeout, then the analyzer's estimate,
// then the run default.
func taskTimeout(rec task.Record, defaultTimeout time.Duration) time.Duration {
	if t := rec.Timeout(); t > 0 {
		return t
	}
	if rec.EstimatedDuration > 0 {
		return time.Duration(rec.EstimatedDuration) * time.Minute
	}
	return defaultTimeout
}

// cancelPending marks tasks that were never dispatched as cancelled.
func (e *Engine) cancelPending(r *run, recs []task.Record) {
	for _, rec := range recs {
		if err := r.states.transition(rec.ID, StateTerminal); err != nil {
			continue
		}
		e.record(r, -1, backend.Cancelled(rec, e.now()))
	}
}

func (e *Engine) finishTask(r *run, groupID int, res backend.Result) {
	if err := r.states.transition(res.TaskID, StateTerminal); err != nil {
		e.logger.Warn("task state", "run", r.id, "task", res.TaskID, "err", err)
	}
	e.record(r, groupID, res)
}

func (e *Engine) record(r *run, groupID int, res backend.Result) {
	r.results.record(res)
	stats := r.results.snapshot()

	logger := e.logger.With("run", r.id, "task", res.TaskID, "status", res.Status)
	switch res.Status {
	case backend.StatusSuccess:
		logger.Info("task finished", "duration", res.Duration.Round(time.Millisecond))
	case backend.StatusCancelled:
		logger.Debug("task cancelled")
	default:
		logger.Warn("task finished", "exit_code", res.ExitCode, "err", res.Error)
	}

	e.emit(Event{
		Type:    EventTaskFinished,
		RunID:   r.id,
		GroupID: groupID,
		TaskID:  res.TaskID,
		Status:  res.Status,
		Message: res.Error,
		Stats:   &stats,
	})
}

func (e *Engine) emit(ev Event) {
	if len(e.observers) == 0 {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	for _, o := range e.observers {
		o(ev)
	}
}
