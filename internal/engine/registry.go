package engine

import (
	"context"
	"sync"
)

// handleRegistry holds the cancel function of every dispatched task. It is
// only ever mutated through insert, remove and cancelAll.
type handleRegistry struct {
	mu      sync.Mutex
	handles map[string]context.CancelFunc
}

func newHandleRegistry() *handleRegistry {
	return &handleRegistry{handles: make(map[string]context.CancelFunc)}
}

func (r *handleRegistry) insert(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = cancel
}

func (r *handleRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// cancelAll cancels every live handle and returns how many there were.
func (r *handleRegistry) cancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.handles {
		cancel()
	}
	return len(r.handles)
}

func (r *handleRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
