package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/assay/api"
)

// RunFetcher reads run state. *api.Client satisfies it.
type RunFetcher interface {
	GetRun(ctx context.Context, id string) (*api.RunResponse, error)
}

// WatchModel is a Bubble Tea model that polls one run and shows its
// progress until the run reaches a terminal status.
type WatchModel struct {
	client   RunFetcher
	runID    string
	interval time.Duration

	run      *api.RunResponse
	fetchErr error
	bar      progress.Model
	width    int
	height   int
	done     bool
	quitting bool
}

type fetchedMsg struct {
	run *api.RunResponse
	err error
}

type tickMsg time.Time

// NewWatchModel creates a watch model polling every interval.
func NewWatchModel(client RunFetcher, runID string, interval time.Duration) WatchModel {
	return WatchModel{
		client:   client,
		runID:    runID,
		interval: interval,
		bar:      progress.New(progress.WithDefaultGradient()),
	}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return m.fetch()
}

func (m WatchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		run, err := m.client.GetRun(ctx, m.runID)
		return fetchedMsg{run: run, err: err}
	}
}

func (m WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = min(msg.Width-8, 64)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case fetchedMsg:
		m.fetchErr = msg.err
		if msg.run != nil {
			m.run = msg.run
			m.done = msg.run.Status.IsTerminal()
		}
		if m.done {
			return m, nil
		}
		return m, m.tick()

	case tickMsg:
		if m.done || m.quitting {
			return m, nil
		}
		return m, m.fetch()
	}

	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run " + m.runID))
	b.WriteString("\n\n")

	if m.fetchErr != nil {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("fetch failed: %v", m.fetchErr)))
		b.WriteString("\n")
	}

	if m.run == nil {
		b.WriteString(ValueStyle.Render("loading..."))
	} else {
		b.WriteString(m.renderRun())
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

func (m WatchModel) renderRun() string {
	run := m.run
	counts := run.Counts

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Status:"),
		StateStyle(string(run.Status)).Render(string(run.Status))))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Cost:"),
		ValueStyle.Render(fmt.Sprintf("%.2f¢", run.CostCents))))
	b.WriteString("\n")

	boxes := []string{
		m.renderStatBox("Pending", counts.Pending, mutedColor),
		m.renderStatBox("Running", counts.Running, warningColor),
		m.renderStatBox("Succeeded", counts.Succeeded, successColor),
		m.renderStatBox("Failed", counts.Failed, errorColor),
		m.renderStatBox("Skipped", counts.Skipped, highlightColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	total := counts.Total()
	settled := counts.Terminal()
	if total > 0 {
		b.WriteString(m.bar.ViewAs(float64(settled) / float64(total)))
		b.WriteString(fmt.Sprintf("  %d/%d", settled, total))
		b.WriteString("\n")
	}

	if len(run.Errors) > 0 {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render("Recent errors"))
		b.WriteString("\n")
		for _, e := range run.Errors {
			b.WriteString(fmt.Sprintf("  %s  %s\n",
				mutedStyle(e.RunItemID), ValueStyle.Render(e.Message)))
		}
	}

	return b.String()
}

func (m WatchModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

func mutedStyle(s string) string {
	return lipgloss.NewStyle().Foreground(mutedColor).Render(s)
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Watch runs the watch TUI until the user quits.
func Watch(client RunFetcher, runID string, interval time.Duration) error {
	model := NewWatchModel(client, runID, interval)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderWatchStatic renders one frame without a terminal, for fallback
// and tests.
func RenderWatchStatic(run *api.RunResponse, runID string) string {
	model := NewWatchModel(nil, runID, time.Second)
	model.run = run
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
