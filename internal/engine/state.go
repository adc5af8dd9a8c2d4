package engine

import (
	"fmt"
	"sync"
)

// TaskState is a task's position in the scheduling lifecycle.
type TaskState int

const (
	StatePending TaskState = iota
	StateDispatched
	StateTerminal
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDispatched:
		return "dispatched"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// validTransitions lists the allowed moves. Pending tasks may become
// terminal directly when they are cancelled or skipped before dispatch.
var validTransitions = map[TaskState][]TaskState{
	StatePending:    {StateDispatched, StateTerminal},
	StateDispatched: {StateTerminal},
}

// stateMachine tracks every task of one run.
type stateMachine struct {
	mu     sync.Mutex
	states map[string]TaskState
}

func newStateMachine(ids []string) *stateMachine {
	m := &stateMachine{states: make(map[string]TaskState, len(ids))}
	for _, id := range ids {
		m.states[id] = StatePending
	}
	return m
}

// transition moves id to next, rejecting unknown tasks and invalid moves.
func (m *stateMachine) transition(id string, next TaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.states[id]
	if !ok {
		return fmt.Errorf("unknown task %q", id)
	}
	for _, allowed := range validTransitions[cur] {
		if allowed == next {
			m.states[id] = next
			return nil
		}
	}
	return fmt.Errorf("task %q: invalid transition %s -> %s", id, cur, next)
}

func (m *stateMachine) state(id string) (TaskState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	return s, ok
}
