package engine

import (
	"time"

	"github.com/nibzard/parallax/internal/backend"
)

// EventType names a scheduling event.
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventGroupStarted    EventType = "group_started"
	EventTaskStarted     EventType = "task_started"
	EventTaskFinished    EventType = "task_finished"
	EventGroupFinished   EventType = "group_finished"
	EventCancelRequested EventType = "cancel_requested"
	EventRunFinished     EventType = "run_finished"
)

// Event is emitted to observers as a run progresses.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	GroupID   int            `json:"group_id"`
	TaskID    string         `json:"task_id,omitempty"`
	Status    backend.Status `json:"status,omitempty"`
	// Tasks is the group size for group events and the run size for run
	// events.
	Tasks int `json:"tasks,omitempty"`
	// Admitted is the concurrency granted to a group.
	Admitted int    `json:"admitted,omitempty"`
	Message  string `json:"message,omitempty"`
	// Stats is set on task_finished and run_finished.
	Stats *Statistics `json:"statistics,omitempty"`
}

// Observer receives events. It is called from task goroutines and must be
// safe for concurrent use.
type Observer func(Event)
