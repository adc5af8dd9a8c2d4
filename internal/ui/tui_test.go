package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nibzard/parallax/internal/backend"
	"github.com/nibzard/parallax/internal/engine"
)

type countingCanceller struct {
	calls int
}

func (c *countingCanceller) CancelAll() { c.calls++ }

func TestMonitorApply(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := newMonitorModel(nil, nil)
	m.now = func() time.Time { return start.Add(90 * time.Second) }

	m.apply(engine.Event{Type: engine.EventRunStarted, RunID: "r1", Tasks: 3})
	m.apply(engine.Event{Type: engine.EventGroupStarted, GroupID: 0, Tasks: 3, Admitted: 2})
	m.apply(engine.Event{Type: engine.EventTaskStarted, TaskID: "a", Timestamp: start})
	m.apply(engine.Event{Type: engine.EventTaskStarted, TaskID: "b", Timestamp: start})
	m.apply(engine.Event{
		Type:    engine.EventTaskFinished,
		TaskID:  "a",
		Status:  backend.StatusFailed,
		Message: "exit status 1",
		Stats:   &engine.Statistics{TotalTasks: 3, FailedTasks: 1},
	})

	if m.runID != "r1" || m.total != 3 {
		t.Errorf("run = %q/%d, want r1/3", m.runID, m.total)
	}
	if m.admitted != 2 || m.groupTasks != 3 {
		t.Errorf("group = %d tasks/%d admitted", m.groupTasks, m.admitted)
	}
	if _, ok := m.running["a"]; ok {
		t.Error("finished task still running")
	}
	if _, ok := m.running["b"]; !ok {
		t.Error("task b not running")
	}
	if len(m.recent) != 1 || m.recent[0].id != "a" {
		t.Errorf("recent = %+v", m.recent)
	}
	if m.finished() != 1 {
		t.Errorf("finished() = %d, want 1", m.finished())
	}

	view := m.View()
	for _, want := range []string{"parallax r1", "Group 0: 3 tasks, 2 admitted", "1/3", "exit status 1", "1m30s"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestMonitorRecentBounded(t *testing.T) {
	m := newMonitorModel(nil, nil)
	for i := 0; i < recentLimit+5; i++ {
		m.apply(engine.Event{Type: engine.EventTaskFinished, TaskID: string(rune('a' + i)), Status: backend.StatusSuccess})
	}
	if len(m.recent) != recentLimit {
		t.Fatalf("len(recent) = %d, want %d", len(m.recent), recentLimit)
	}
	if m.recent[0].id != string(rune('a'+recentLimit+4)) {
		t.Errorf("newest = %q", m.recent[0].id)
	}
}

func TestMonitorKeys(t *testing.T) {
	c := &countingCanceller{}
	m := newMonitorModel(nil, c)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if c.calls != 1 {
		t.Errorf("CancelAll calls = %d, want 1", c.calls)
	}
	if !strings.Contains(m.View(), "Cancelling") {
		t.Error("View() does not show cancellation")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestMonitorCtrlCCancelsRun(t *testing.T) {
	c := &countingCanceller{}
	m := newMonitorModel(nil, c)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if c.calls != 1 {
		t.Errorf("CancelAll calls = %d, want 1", c.calls)
	}
	if cmd == nil {
		t.Fatal("ctrl+c returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c did not quit")
	}
}

func TestMonitorQuitDoesNotCancel(t *testing.T) {
	c := &countingCanceller{}
	m := newMonitorModel(nil, c)
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if c.calls != 0 {
		t.Errorf("CancelAll calls = %d, want 0", c.calls)
	}
}

func TestMonitorQuitsWhenEventsClose(t *testing.T) {
	ch := make(chan engine.Event, 1)
	m := newMonitorModel(ch, nil)

	ch <- engine.Event{Type: engine.EventRunFinished, Stats: &engine.Statistics{TotalTasks: 1, CompletedTasks: 1}}
	close(ch)

	msg := waitForEvent(ch)()
	if _, cmd := m.Update(msg); cmd == nil {
		t.Fatal("event returned no follow-up command")
	}
	if !m.done {
		t.Error("run_finished did not mark done")
	}

	msg = waitForEvent(ch)()
	if _, ok := msg.(eventsClosedMsg); !ok {
		t.Fatalf("msg = %T, want eventsClosedMsg", msg)
	}
	_, cmd := m.Update(msg)
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("closed channel did not quit")
	}
}

func TestForwarderDropsWhenFull(t *testing.T) {
	ch := make(chan engine.Event, 1)
	obs := Forwarder(ch)
	obs(engine.Event{Type: engine.EventRunStarted})
	obs(engine.Event{Type: engine.EventGroupStarted})

	if len(ch) != 1 {
		t.Fatalf("len(ch) = %d, want 1", len(ch))
	}
	if ev := <-ch; ev.Type != engine.EventRunStarted {
		t.Errorf("first event = %s", ev.Type)
	}
}

func TestRunMonitorRequiresTTY(t *testing.T) {
	var buf bytes.Buffer
	if err := RunMonitor(context.Background(), &buf, nil, nil); err == nil {
		t.Fatal("RunMonitor() on a buffer: want error")
	}
	if IsTTY(&buf) {
		t.Error("IsTTY(buffer) = true")
	}
}
