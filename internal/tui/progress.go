// Package tui shows live progress of a run in the terminal. The model is fed
// by the event bus and only renders; it never influences the loop.
package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/patchloop/internal/event"
)

// maxLogLines bounds the activity log under the status line.
const maxLogLines = 8

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))
)

// EventMsg delivers a bus event to the model.
type EventMsg struct {
	Event event.Event
}

// DoneMsg tells the model the run is over.
type DoneMsg struct{}

// Model is the bubbletea model of the progress view.
type Model struct {
	spinner spinner.Model

	state     string
	milestone string
	scope     string
	attempt   int
	global    int
	maxGlobal int

	applied  int
	skipped  int
	unusable int
	passed   int
	failed   int

	log   []string
	width int
	done  bool
}

// NewModel creates an idle progress model.
func NewModel() Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle
	return Model{spinner: s, state: "starting"}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles bus events, window resizes and spinner ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EventMsg:
		m.handleEvent(msg.Event)
		return m, nil
	case DoneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleEvent(e event.Event) {
	switch ev := e.(type) {
	case event.StateChangedEvent:
		m.state = strings.ToLower(ev.To)
	case event.AttemptStartedEvent:
		m.milestone = ev.MilestoneID
		m.scope = ev.Scope
		m.attempt = ev.Attempt
		m.global = ev.Global
		m.maxGlobal = ev.MaxGlobal
	case event.ResponseUnusableEvent:
		m.unusable++
		m.addLog(warningStyle.Render("unusable " + ev.Phase + " response: " + ev.Reason))
	case event.ChangeAppliedEvent:
		m.applied++
		m.addLog(successStyle.Render(fmt.Sprintf("applied %s (+%d -%d)", ev.Path, ev.LinesAdded, ev.LinesDeleted)))
	case event.ChangeSkippedEvent:
		m.skipped++
		m.addLog(warningStyle.Render(fmt.Sprintf("skipped %s (%s)", ev.Path, ev.Reason)))
	case event.VerifyCommandEvent:
		switch {
		case ev.Passed:
			m.passed++
			m.addLog(successStyle.Render("pass  " + ev.Command))
		case ev.TimedOut:
			m.failed++
			m.addLog(errorStyle.Render("timeout  " + ev.Command))
		default:
			m.failed++
			m.addLog(errorStyle.Render("fail  " + ev.Command))
		}
	case event.MilestoneFinishedEvent:
		style := errorStyle
		if ev.Passed {
			style = successStyle
		}
		m.addLog(style.Render(fmt.Sprintf("milestone %s: %s after %d attempt(s)", ev.MilestoneID, ev.StopReason, ev.Attempts)))
	}
}

func (m *Model) addLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// View renders the status line, counters and recent activity.
func (m Model) View() string {
	var b strings.Builder

	status := m.spinner.View() + " "
	if m.done {
		status = successStyle.Render("✓") + " "
	}
	b.WriteString(status + titleStyle.Render("patchloop") + " " + mutedStyle.Render(m.state))
	if m.milestone != "" {
		fmt.Fprintf(&b, "  milestone %s attempt %d  (%d/%d)", m.milestone, m.attempt, m.global, m.maxGlobal)
	}
	b.WriteString("\n")

	if m.scope != "" {
		scope := m.scope
		if m.width > 10 && len([]rune(scope)) > m.width-4 {
			scope = string([]rune(scope)[:m.width-5]) + "…"
		}
		b.WriteString(mutedStyle.Render("  "+scope) + "\n")
	}

	fmt.Fprintf(&b, "  changes %d applied, %d skipped · checks %d passed, %d failed · unusable %d\n",
		m.applied, m.skipped, m.passed, m.failed, m.unusable)

	for _, line := range m.log {
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

// Progress runs the progress view for the duration of a run.
type Progress struct {
	program *tea.Program
	bus     *event.Bus
	subID   string
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// StartProgress subscribes to bus and starts rendering to out.
func StartProgress(bus *event.Bus, out io.Writer) *Progress {
	p := &Progress{
		program: tea.NewProgram(NewModel(), tea.WithOutput(out), tea.WithInput(nil)),
		bus:     bus,
		done:    make(chan struct{}),
	}
	p.subID = bus.SubscribeAll(func(e event.Event) {
		p.program.Send(EventMsg{Event: e})
	})

	go func() {
		defer close(p.done)
		_, err := p.program.Run()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}()
	return p
}

// Stop renders the final frame and waits for the program to exit.
func (p *Progress) Stop() error {
	p.bus.Unsubscribe(p.subID)
	p.program.Send(DoneMsg{})
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
