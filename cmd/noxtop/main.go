// Command noxtop is a read-only fleet dashboard: it connects to a
// running Nox supervisor's Request Facade in-process, subscribes to the
// Event Bus, and renders agent/task counts with bubbletea + lipgloss.
// Grounded on internal/tui/tui.go's tick-driven model/View shape,
// trimmed to a single status view (no chat, no genesis wizard — those
// are the core's Non-goals, spec.md §1).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/noxhq/nox/internal/config"
	"github.com/noxhq/nox/internal/supervisor"
)

type snapshot struct {
	agents         int
	activeAgents   int
	queueDepth     int
	activeTasks    int
	droppedEvents  int64
	lastEventKind  string
	uptime         time.Duration
}

type model struct {
	sup     *supervisor.Supervisor
	started time.Time
	snap    snapshot
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		running := m.sup.Agents.ListRunning()
		m.snap = snapshot{
			agents:        len(m.sup.Store.ListAgents()),
			activeAgents:  len(running),
			queueDepth:    m.sup.QueueDepth(),
			activeTasks:   m.sup.ActiveTaskCount(),
			droppedEvents: m.sup.BusDroppedEventCount(),
			uptime:        time.Since(m.started),
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Render("nox fleet status")
	return fmt.Sprintf(
		"%s\n\nAgents: %d (active %d)\nQueue Depth: %d\nActive Tasks: %d\nDropped Events: %d\nUptime: %s\n\nPress q to quit.\n",
		title,
		m.snap.agents,
		m.snap.activeAgents,
		m.snap.queueDepth,
		m.snap.activeTasks,
		m.snap.droppedEvents,
		m.snap.uptime.Truncate(time.Second),
	)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	sup, err := supervisor.New(cfg, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "supervisor init failed:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sup.Run(ctx)
	defer sup.Shutdown(5 * time.Second)

	m := model{sup: sup, started: time.Now()}
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "noxtop exited with error:", err)
		os.Exit(1)
	}
}
