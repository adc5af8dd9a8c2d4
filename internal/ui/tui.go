// Package ui provides optional terminal interfaces.
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nibzard/parallax/internal/backend"
	"github.com/nibzard/parallax/internal/engine"
)

const recentLimit = 8

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	skippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	cancelingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

// Canceller stops a run in progress.
type Canceller interface {
	CancelAll()
}

// Forwarder returns an observer that sends events to ch without blocking
// the engine. Events are dropped while ch is full; every event carries
// enough state for the monitor to catch up.
func Forwarder(ch chan<- engine.Event) engine.Observer {
	return func(ev engine.Event) {
		select {
		case ch <- ev:
		default:
		}
	}
}

// RunMonitor shows live progress for the events on ch until ch is closed
// or the user quits. Pressing c cancels the run through c; ctrl+c cancels
// and quits.
func RunMonitor(ctx context.Context, out io.Writer, events <-chan engine.Event, c Canceller) error {
	if !IsTTY(out) {
		return fmt.Errorf("tui requires a TTY")
	}
	program := tea.NewProgram(newMonitorModel(events, c), tea.WithContext(ctx), tea.WithOutput(out))
	_, err := program.Run()
	return err
}

type finishedTask struct {
	id     string
	status backend.Status
	msg    string
}

type monitorModel struct {
	events    <-chan engine.Event
	canceller Canceller
	now       func() time.Time

	spinner spinner.Model
	bar     progress.Model

	runID      string
	total      int
	stats      engine.Statistics
	group      int
	groupTasks int
	admitted   int
	running    map[string]time.Time
	recent     []finishedTask
	cancelling bool
	done       bool
}

type eventMsg struct {
	event engine.Event
}

type eventsClosedMsg struct{}

func newMonitorModel(events <-chan engine.Event, c Canceller) *monitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle
	return &monitorModel{
		events:    events,
		canceller: c,
		now:       time.Now,
		spinner:   s,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		group:     -1,
		running:   make(map[string]time.Time),
	}
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "ctrl+c":
			// Raw mode swallows SIGINT, so the interrupt is ours to pass on.
			m.cancel()
			return m, tea.Quit
		case "c":
			m.cancel()
			return m, nil
		}
	case tea.WindowSizeMsg:
		width := msg.Width - 20
		if width > 60 {
			width = 60
		}
		if width < 10 {
			width = 10
		}
		m.bar.Width = width
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case eventMsg:
		m.apply(msg.event)
		return m, waitForEvent(m.events)
	case eventsClosedMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *monitorModel) cancel() {
	if !m.done && !m.cancelling && m.canceller != nil {
		m.cancelling = true
		m.canceller.CancelAll()
	}
}

func waitForEvent(ch <-chan engine.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: ev}
	}
}

// apply folds one engine event into the model.
func (m *monitorModel) apply(ev engine.Event) {
	if ev.Stats != nil {
		m.stats = *ev.Stats
	}
	switch ev.Type {
	case engine.EventRunStarted:
		m.runID = ev.RunID
		m.total = ev.Tasks
	case engine.EventGroupStarted:
		m.group = ev.GroupID
		m.groupTasks = ev.Tasks
		m.admitted = ev.Admitted
	case engine.EventTaskStarted:
		m.running[ev.TaskID] = ev.Timestamp
	case engine.EventTaskFinished:
		delete(m.running, ev.TaskID)
		m.recent = append([]finishedTask{{id: ev.TaskID, status: ev.Status, msg: ev.Message}}, m.recent...)
		if len(m.recent) > recentLimit {
			m.recent = m.recent[:recentLimit]
		}
	case engine.EventCancelRequested:
		m.cancelling = true
	case engine.EventRunFinished:
		m.done = true
		m.running = map[string]time.Time{}
	}
	if m.total == 0 && m.stats.TotalTasks > 0 {
		m.total = m.stats.TotalTasks
	}
}

func (m *monitorModel) finished() int {
	s := m.stats
	return s.CompletedTasks + s.FailedTasks + s.CancelledTasks + s.SkippedTasks
}

func (m *monitorModel) View() string {
	var b strings.Builder

	title := "parallax"
	if m.runID != "" {
		title += " " + m.runID
	}
	b.WriteString(titleStyle.Render(title) + "\n\n")

	switch {
	case m.done:
		b.WriteString(successStyle.Render("Run finished.") + "\n")
	case m.cancelling:
		b.WriteString(m.spinner.View() + " " + cancelingStyle.Render("Cancelling...") + "\n")
	case m.group >= 0:
		b.WriteString(fmt.Sprintf("%s Group %d: %d tasks, %d admitted\n", m.spinner.View(), m.group, m.groupTasks, m.admitted))
	default:
		b.WriteString(m.spinner.View() + " Starting...\n")
	}

	pct := 0.0
	if m.total > 0 {
		pct = float64(m.finished()) / float64(m.total)
	}
	b.WriteString(fmt.Sprintf("%s %d/%d\n\n", m.bar.ViewAs(pct), m.finished(), m.total))

	b.WriteString(m.counts() + "\n\n")

	if running := m.runningLines(); len(running) > 0 {
		b.WriteString(boxStyle.Render("Running\n"+strings.Join(running, "\n")) + "\n")
	}
	if len(m.recent) > 0 {
		lines := make([]string, 0, len(m.recent))
		for _, t := range m.recent {
			lines = append(lines, formatFinished(t))
		}
		b.WriteString(boxStyle.Render("Recent\n"+strings.Join(lines, "\n")) + "\n")
	}

	b.WriteString(mutedStyle.Render("c cancel all | q quit | ctrl+c cancel and quit") + "\n")
	return b.String()
}

func (m *monitorModel) counts() string {
	s := m.stats
	parts := []string{
		successStyle.Render(fmt.Sprintf("%d succeeded", s.CompletedTasks)),
		failedStyle.Render(fmt.Sprintf("%d failed", s.FailedTasks)),
	}
	if s.TimedOutTasks > 0 {
		parts = append(parts, warnStyle.Render(fmt.Sprintf("%d timed out", s.TimedOutTasks)))
	}
	parts = append(parts, skippedStyle.Render(fmt.Sprintf("%d cancelled", s.CancelledTasks)))
	if s.SkippedTasks > 0 {
		parts = append(parts, skippedStyle.Render(fmt.Sprintf("%d skipped", s.SkippedTasks)))
	}
	return strings.Join(parts, mutedStyle.Render(" · "))
}

func (m *monitorModel) runningLines() []string {
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := m.now()
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		elapsed := now.Sub(m.running[id]).Round(time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s", runningStyle.Render(">"), id, mutedStyle.Render(elapsed.String())))
	}
	return lines
}

func formatFinished(t finishedTask) string {
	icon := successStyle.Render("x")
	switch t.status {
	case backend.StatusFailed:
		icon = failedStyle.Render("!")
	case backend.StatusTimeout:
		icon = warnStyle.Render("T")
	case backend.StatusCancelled, backend.StatusSkipped:
		icon = skippedStyle.Render("-")
	}

	line := fmt.Sprintf("  %s %s %s", icon, t.id, mutedStyle.Render(string(t.status)))
	if t.msg != "" && t.status != backend.StatusSuccess {
		msg := t.msg
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		line += "\n      " + mutedStyle.Render(msg)
	}
	return line
}

// IsTTY returns true if w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
