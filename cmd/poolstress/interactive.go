package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/pool"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Width(10)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type dashboardModel struct {
	err      error
	pool     *pool.PoolingAllocator
	limits   wasmpool.Limits
	counters *counters
	stop     chan struct{}
	wg       *sync.WaitGroup
	started  time.Time
	stats    pool.Stats
	bars     map[string]progress.Model
	workers  int
	done     bool
}

type tickMsg time.Time

func newDashboardModel(limits wasmpool.Limits, workers int, hold time.Duration) (*dashboardModel, error) {
	p, err := pool.New(pool.Config{Limits: limits})
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	m := &dashboardModel{
		pool:     p,
		limits:   limits,
		counters: &counters{},
		stop:     make(chan struct{}),
		wg:       &sync.WaitGroup{},
		started:  time.Now(),
		workers:  workers,
		bars:     make(map[string]progress.Model),
	}
	for _, name := range []string{"stacks", "memories", "tables"} {
		bar := progress.New(progress.WithDefaultGradient())
		bar.Width = 40
		m.bars[name] = bar
	}
	startWorkers(p, limits, workers, hold, m.stop, m.wg, m.counters)
	return m, nil
}

func (m *dashboardModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.done {
				close(m.stop)
				m.wg.Wait()
				if err := m.pool.Close(); err != nil && m.err == nil {
					m.err = err
				}
				m.done = true
			}
			return m, tea.Quit
		}

	case tickMsg:
		m.stats = m.pool.Stats()
		return m, tick()
	}
	return m, nil
}

func (m *dashboardModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Pool Stress"))
	b.WriteString(fmt.Sprintf(" %d workers, decommit=%s\n\n", m.workers, m.limits.Decommit))

	for _, row := range []struct {
		name  string
		stats pool.PoolStats
	}{
		{"stacks", m.stats.Stacks},
		{"memories", m.stats.Memories},
		{"tables", m.stats.Tables},
	} {
		ratio := 0.0
		if row.stats.Limit > 0 {
			ratio = float64(row.stats.Live) / float64(row.stats.Limit)
		}
		b.WriteString(labelStyle.Render(row.name))
		b.WriteString(" ")
		b.WriteString(m.bars[row.name].ViewAs(ratio))
		b.WriteString(fmt.Sprintf(" %d/%d (peak %d)\n", row.stats.Live, row.stats.Limit, row.stats.Peak))
	}

	elapsed := time.Since(m.started).Seconds()
	acquired := m.counters.acquired.Load()
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("allocated"))
	b.WriteString(" ")
	b.WriteString(countStyle.Render(fmt.Sprintf("%d (%.0f/s)", acquired, float64(acquired)/elapsed)))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("rejected"))
	b.WriteString(" ")
	b.WriteString(countStyle.Render(fmt.Sprintf("%d", m.counters.rejected.Load())))
	b.WriteString("\n")
	if failed := m.counters.failed.Load(); failed > 0 {
		b.WriteString(labelStyle.Render("failed"))
		b.WriteString(" ")
		b.WriteString(errorStyle.Render(fmt.Sprintf("%d", failed)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q quit"))
	return b.String()
}

func runInteractive(limits wasmpool.Limits, workers int, hold time.Duration) error {
	m, err := newDashboardModel(limits, workers, hold)
	if err != nil {
		return err
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
