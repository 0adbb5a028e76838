package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/patrolsync/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const cronometerInterval = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the cronometer of the active round",
	Long: `Show elapsed and remaining time of the active round with its checkpoint
progress. The round is closed automatically when its tolerance elapses.

Without a terminal, one line is printed per second.`,
	RunE: runWatch,
}

// Theme holds the color scheme for the cronometer.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status).Bold(true)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// lowTimeThreshold turns the remaining time amber.
const lowTimeThreshold = 5 * time.Minute

// ticker reads the cronometer. *service.Session implements it.
type ticker interface {
	Tick(ctx context.Context) (service.Tick, error)
}

// tickMsg triggers a cronometer reading
type tickMsg time.Time

// cronoMsg carries one reading
type cronoMsg struct {
	tick service.Tick
	err  error
}

// cronometerModel is the bubbletea model for the active round.
type cronometerModel struct {
	source   ticker
	tick     service.Tick
	started  bool
	progress progress.Model
	theme    Theme
	summary  *service.Summary
	done     bool
	quitting bool
	err      error
}

func newCronometerModel(src ticker) cronometerModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return cronometerModel{
		source:   src,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init reads the cronometer right away.
func (m cronometerModel) Init() tea.Cmd {
	return tea.Batch(
		m.read(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m cronometerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.read()

	case cronoMsg:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		if msg.tick.Summary != nil {
			m.summary = msg.tick.Summary
			m.done = true
			return m, tea.Quit
		}
		if msg.tick.RoundID == "" {
			// No active round, or it was terminated elsewhere.
			m.done = true
			return m, tea.Quit
		}
		m.tick = msg.tick
		m.started = true
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the cronometer.
func (m cronometerModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m cronometerModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if !m.started {
		return "Loading round...\n"
	}

	t := m.tick
	var pct float64
	if t.Total > 0 {
		pct = float64(t.Scanned) / float64(t.Total)
	}

	elapsed := m.theme.statusStyle().Render(service.FormatElapsed(t.Elapsed))
	remainingStyle := m.theme.hintStyle()
	if t.Remaining <= lowTimeThreshold {
		remainingStyle = m.theme.warningStyle()
	}
	remaining := remainingStyle.Render(service.FormatElapsed(max(t.Remaining, 0)) + " left")

	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d checkpoints", t.Scanned, t.Total)
	hint := m.theme.hintStyle().Render("Press q to leave; the round keeps running")

	return fmt.Sprintf("%s  %s\n%s %s\n%s\n", elapsed, remaining, bar, counts, hint)
}

func (m cronometerModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nRound continues. Use 'patrol watch' to return.\n")
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Cronometer failed: %s\n", m.err))
	}
	if m.summary != nil {
		s := m.summary
		out := m.theme.completedStyle().Render(fmt.Sprintf("✓ Round closed: %s", s.State)) + "\n\n"
		out += fmt.Sprintf("  Checkpoints: %d/%d\n", s.Scanned, s.Total)
		out += fmt.Sprintf("  Duration:    %s\n", service.FormatElapsed(s.EndedAt.Sub(s.StartedAt)))
		for _, name := range s.Missing {
			out += fmt.Sprintf("  • missing %s\n", name)
		}
		return out
	}
	return m.theme.hintStyle().Render("No round in progress.\n")
}

// read takes a reading in a command so Update never blocks.
func (m cronometerModel) read() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		t, err := m.source.Tick(ctx)
		return cronoMsg{tick: t, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(cronometerInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r, sum, err := device.Session.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume round: %w", err)
	}
	if sum != nil {
		printSummary(sum)
		return nil
	}
	if r == nil {
		fmt.Println("No round in progress.")
		return nil
	}

	// Keep probing so queued writes replay while the operator watches.
	bg, cancel := context.WithCancel(ctx)
	defer cancel()
	go device.Monitor.Run(bg)

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return watchPlain(bg, device.Session)
	}

	finalModel, err := tea.NewProgram(newCronometerModel(device.Session)).Run()
	if err != nil {
		return fmt.Errorf("cronometer UI error: %w", err)
	}
	if m, ok := finalModel.(cronometerModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

// watchPlain prints one reading per second until the round ends or the
// process is interrupted.
func watchPlain(ctx context.Context, src ticker) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		tick, err := src.Tick(ctx)
		if err != nil {
			return err
		}
		if tick.Summary != nil {
			printSummary(tick.Summary)
			return nil
		}
		if tick.RoundID == "" {
			fmt.Println("No round in progress.")
			return nil
		}
		fmt.Printf("%s elapsed, %s left, %d/%d checkpoints\n",
			service.FormatElapsed(tick.Elapsed), service.FormatElapsed(max(tick.Remaining, 0)), tick.Scanned, tick.Total)

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
