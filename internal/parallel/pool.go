package parallel

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// TaskFunc runs one task. It receives the pool's context and reports its own
// outcome; the pool only tracks admission.
type TaskFunc func(ctx context.Context)

// WorkerPool executes submitted tasks with at most maxWorkers running at
// once.
type WorkerPool struct {
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	group      *errgroup.Group

	mu         sync.Mutex
	started    int
	notStarted []string
}

// NewWorkerPool creates a pool. If maxWorkers is 0 or less, concurrency is
// bounded only by the number of submitted tasks.
func NewWorkerPool(ctx context.Context, maxWorkers int) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)
	g := &errgroup.Group{}
	if maxWorkers > 0 {
		g.SetLimit(maxWorkers)
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		ctx:        ctx,
		cancel:     cancel,
		group:      g,
	}
}

// Submit schedules fn. It blocks while the pool is at capacity. A task whose
// turn comes after the pool's context ended is not run and is reported by
// Wait as not started.
func (p *WorkerPool) Submit(taskID string, fn TaskFunc) {
	if p.ctx.Err() != nil {
		p.skip(taskID)
		return
	}
	p.group.Go(func() error {
		if p.ctx.Err() != nil {
			p.skip(taskID)
			return nil
		}
		p.mu.Lock()
		p.started++
		p.mu.Unlock()
		fn(p.ctx)
		return nil
	})
}

func (p *WorkerPool) skip(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notStarted = append(p.notStarted, taskID)
}

// Wait blocks until every started task has returned. It returns how many
// tasks ran and the IDs of tasks that were never started.
func (p *WorkerPool) Wait() (int, []string) {
	_ = p.group.Wait()
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	notStarted := make([]string, len(p.notStarted))
	copy(notStarted, p.notStarted)
	return p.started, notStarted
}
