package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SpeedSteps are the multipliers the speed keys move through.
var SpeedSteps = []float64{0.25, 0.5, 1, 1.5, 2, 4, 8}

// NextSpeed moves delta steps from current along SpeedSteps, clamped at
// both ends. A current value between steps snaps to the nearest lower one.
func NextSpeed(current float64, delta int) float64 {
	idx := 0
	for i, s := range SpeedSteps {
		if s <= current {
			idx = i
		}
	}
	idx += delta
	if idx < 0 {
		idx = 0
	}
	if idx >= len(SpeedSteps) {
		idx = len(SpeedSteps) - 1
	}
	return SpeedSteps[idx]
}

// Status is what the header shows about the engine.
type Status struct {
	Phase    string
	Position int
	Count    int
	Speed    float64
	Detail   string
}

// Controls are the actions the keys drive. Nil actions disable their keys.
type Controls struct {
	Toggle   func()
	SetSpeed func(float64) error
	Seek     func(delta float64)
	Reset    func()
	Status   func() Status
}

const (
	statusEvery = 250 * time.Millisecond
	seekStep    = 0.1
	maxTurns    = 200
)

type turnMsg Turn

type statusMsg Status

type errMsg struct{ err error }

type keyMap struct {
	Toggle  key.Binding
	Faster  key.Binding
	Slower  key.Binding
	Forward key.Binding
	Back    key.Binding
	Reset   key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Faster, k.Slower, k.Back, k.Forward, k.Reset, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

func defaultKeys() keyMap {
	return keyMap{
		Toggle:  key.NewBinding(key.WithKeys(" ", "p"), key.WithHelp("space", "play/pause")),
		Faster:  key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "faster")),
		Slower:  key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "slower")),
		Forward: key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "seek")),
		Back:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "back")),
		Reset:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
		Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type theme struct {
	header  lipgloss.Style
	status  lipgloss.Style
	errText lipgloss.Style
	panel   lipgloss.Style
	active  lipgloss.Style
	muted   lipgloss.Style
	agent   map[string]lipgloss.Style
}

func newTheme() theme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	muted := lipgloss.Color("#9ca3d8")
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(mint).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		status:  lipgloss.NewStyle().Foreground(blue).Bold(true),
		errText: lipgloss.NewStyle().Foreground(pink).Bold(true),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		active: lipgloss.NewStyle().Background(lipgloss.Color("#2a184a")),
		muted:  lipgloss.NewStyle().Foreground(muted),
		agent: map[string]lipgloss.Style{
			"kai":    lipgloss.NewStyle().Foreground(mint).Bold(true),
			"claude": lipgloss.NewStyle().Foreground(pink).Bold(true),
			"aria":   lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")).Bold(true),
		},
	}
}

func (t theme) agentStyle(name string) lipgloss.Style {
	if s, ok := t.agent[strings.ToLower(name)]; ok {
		return s
	}
	return t.status
}

// Model is the terminal surface. Turns arrive through a ProgramSurface.
type Model struct {
	title    string
	controls Controls
	keys     keyMap
	help     help.Model
	bar      progress.Model
	theme    theme

	turns  []Turn
	status Status
	err    error
	width  int
	height int
}

// NewModel builds the TUI model.
func NewModel(title string, controls Controls) Model {
	return Model{
		title:    title,
		controls: controls,
		keys:     defaultKeys(),
		help:     help.New(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		theme:    newTheme(),
		width:    80,
		height:   24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshStatus(), tickEvery(statusEvery))
}

type tickMsg time.Time

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refreshStatus() tea.Cmd {
	if m.controls.Status == nil {
		return nil
	}
	status := m.controls.Status
	return func() tea.Msg { return statusMsg(status()) }
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.bar.Width = max(10, msg.Width-4)
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshStatus(), tickEvery(statusEvery))

	case statusMsg:
		m.status = Status(msg)
		return m, nil

	case turnMsg:
		m.turns = append(m.turns, Turn(msg))
		if len(m.turns) > maxTurns {
			m.turns = m.turns[len(m.turns)-maxTurns:]
		}
		return m, m.refreshStatus()

	case errMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	c := m.controls
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Toggle) && c.Toggle != nil:
		c.Toggle()
	case key.Matches(msg, m.keys.Faster) && c.SetSpeed != nil:
		m.err = c.SetSpeed(NextSpeed(m.currentSpeed(), 1))
	case key.Matches(msg, m.keys.Slower) && c.SetSpeed != nil:
		m.err = c.SetSpeed(NextSpeed(m.currentSpeed(), -1))
	case key.Matches(msg, m.keys.Forward) && c.Seek != nil:
		c.Seek(seekStep)
	case key.Matches(msg, m.keys.Back) && c.Seek != nil:
		c.Seek(-seekStep)
	case key.Matches(msg, m.keys.Reset) && c.Reset != nil:
		c.Reset()
		m.turns = nil
	default:
		return m, nil
	}
	return m, m.refreshStatus()
}

func (m Model) currentSpeed() float64 {
	if m.status.Speed > 0 {
		return m.status.Speed
	}
	return 1
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.header.Render(m.title))
	b.WriteString("\n")

	s := m.status
	line := fmt.Sprintf("%s  %d/%d  %.2gx", s.Phase, s.Position, s.Count, m.currentSpeed())
	if s.Detail != "" {
		line += "  " + s.Detail
	}
	b.WriteString(m.theme.status.Render(line))
	b.WriteString("\n")
	if s.Count > 0 {
		b.WriteString(m.bar.ViewAs(float64(s.Position) / float64(s.Count)))
		b.WriteString("\n")
	}

	rows := max(3, m.height-8)
	start := max(0, len(m.turns)-rows)
	var lines []string
	for i, t := range m.turns[start:] {
		text := fmt.Sprintf("%s %s  %s",
			m.theme.agentStyle(t.Agent).Render(t.ID.String()),
			m.theme.muted.Render(fmt.Sprintf("(%d chars)", len(t.Payload))),
			t.Interpretation)
		if start+i == len(m.turns)-1 {
			text = m.theme.active.Render(text)
		}
		lines = append(lines, text)
	}
	if len(lines) == 0 {
		lines = append(lines, m.theme.muted.Render("waiting for the first turn..."))
	}
	b.WriteString(m.theme.panel.Width(max(20, m.width-4)).Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(m.theme.errText.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// ProgramSurface forwards turns into a running bubbletea program.
type ProgramSurface struct {
	P *tea.Program
}

func (s ProgramSurface) Show(t Turn) { s.P.Send(turnMsg(t)) }

// ReportError shows err in the TUI footer.
func (s ProgramSurface) ReportError(err error) { s.P.Send(errMsg{err: err}) }
