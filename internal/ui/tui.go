package ui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
)

// TUIPrompter asks with an interactive menu. Each prompt runs its own
// bubbletea program; prompts for different paths take turns on the
// terminal while the coordinator keeps running.
type TUIPrompter struct {
	in     io.Reader
	out    io.Writer
	styles Styles
	turn   chan struct{}
}

// NewTUIPrompter creates an interactive prompter.
func NewTUIPrompter(cfg Config) *TUIPrompter {
	return &TUIPrompter{
		in:     cfg.Input,
		out:    cfg.Output,
		styles: GetStyles(cfg.NoColor),
		turn:   make(chan struct{}, 1),
	}
}

// Prompt implements resolution.Prompter.
func (p *TUIPrompter) Prompt(ctx context.Context, c *conflict.Conflict, offered []resolution.Action) (resolution.Resolution, error) {
	select {
	case p.turn <- struct{}{}:
	case <-ctx.Done():
		return resolution.Resolution{}, ctx.Err()
	}
	defer func() { <-p.turn }()

	program := tea.NewProgram(
		newPromptModel(c, offered, p.styles),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
		tea.WithContext(ctx),
	)
	final, err := program.Run()
	if ctx.Err() != nil {
		return resolution.Resolution{}, ctx.Err()
	}
	if err != nil {
		return resolution.Resolution{}, fmt.Errorf("conflict prompt: %w", err)
	}

	m, ok := final.(promptModel)
	if !ok || !m.done {
		return resolution.Resolution{Action: resolution.ActionDismiss}, nil
	}
	return m.result, nil
}

type promptKeys struct {
	Up      key.Binding
	Down    key.Binding
	Choose  key.Binding
	Always  key.Binding
	Session key.Binding
	Dismiss key.Binding
}

func (k promptKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Choose, k.Always, k.Session, k.Dismiss}
}

func (k promptKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultPromptKeys = promptKeys{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Choose:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "choose")),
	Always:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "always")),
	Session: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "this session")),
	Dismiss: key.NewBinding(key.WithKeys("esc", "q", "ctrl+c"), key.WithHelp("esc", "dismiss")),
}

// promptModel is the bubbletea model for one conflict.
type promptModel struct {
	conflict *conflict.Conflict
	offered  []resolution.Action
	styles   Styles
	keys     promptKeys
	help     help.Model

	cursor  int
	durable bool
	session bool

	// asking is set while the argument of the chosen action is typed.
	asking bool
	input  textinput.Model
	note   string

	result resolution.Resolution
	done   bool
}

func newPromptModel(c *conflict.Conflict, offered []resolution.Action, styles Styles) promptModel {
	ti := textinput.New()
	ti.CharLimit = 4096
	ti.Width = 60
	return promptModel{
		conflict: c,
		offered:  offered,
		styles:   styles,
		keys:     defaultPromptKeys,
		help:     help.New(),
		input:    ti,
	}
}

// Init implements tea.Model.
func (m promptModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		if m.asking {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		return m, nil
	}
	if m.asking {
		return m.updateArgument(keyMsg)
	}

	switch {
	case key.Matches(keyMsg, m.keys.Dismiss):
		m.result = resolution.Resolution{Action: resolution.ActionDismiss}
		m.done = true
		return m, tea.Quit
	case key.Matches(keyMsg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, m.keys.Down):
		if m.cursor < len(m.offered)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, m.keys.Always):
		m.durable = !m.durable
		m.session = false
	case key.Matches(keyMsg, m.keys.Session):
		m.session = !m.session
		m.durable = false
	case key.Matches(keyMsg, m.keys.Choose):
		return m.choose()
	default:
		if n := digit(keyMsg.String()); n > 0 && n <= len(m.offered) {
			m.cursor = n - 1
			return m.choose()
		}
	}
	m.note = ""
	return m, nil
}

func (m promptModel) updateArgument(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a := m.offered[m.cursor]
	switch msg.Type {
	case tea.KeyEsc:
		m.asking = false
		m.input.Blur()
		m.input.Reset()
		m.note = ""
		return m, nil
	case tea.KeyEnter:
		arg := strings.TrimSpace(m.input.Value())
		if arg == "" && argumentRequired(a) {
			m.note = "a path is required"
			return m, nil
		}
		m.result.Argument = arg
		return m.finish(a)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m promptModel) choose() (tea.Model, tea.Cmd) {
	a := m.offered[m.cursor]
	if q := argumentPrompt(m.conflict, a); q != "" {
		m.asking = true
		m.input.Placeholder = q
		m.note = ""
		return m, m.input.Focus()
	}
	return m.finish(a)
}

func (m promptModel) finish(a resolution.Action) (tea.Model, tea.Cmd) {
	m.result.Action = a
	m.result.Remember = remember(m.conflict, a, m.durable, m.session)
	m.done = true
	return m, tea.Quit
}

// View implements tea.Model.
func (m promptModel) View() string {
	if m.done {
		return ""
	}

	var lines []string
	sev := m.styles.Severity(m.conflict.Severity).Render(strings.ToUpper(m.conflict.Severity.String()))
	lines = append(lines, sev+" "+m.styles.Path.Render(m.conflict.Path))
	lines = append(lines, m.conflict.Summary())
	if m.conflict.Cause != "" {
		lines = append(lines, m.styles.Label.Render("cause: ")+m.conflict.Cause)
	}
	lines = append(lines, "")

	for i, a := range m.offered {
		label := fmt.Sprintf("%d. %s", i+1, ActionLabel(a))
		if i == m.cursor {
			lines = append(lines, m.styles.Selected.Render("› "+label))
			continue
		}
		lines = append(lines, "  "+label)
	}

	switch {
	case m.durable:
		lines = append(lines, "", m.styles.Warning.Render("remember: always"))
	case m.session:
		lines = append(lines, "", m.styles.Info.Render("remember: this session"))
	}

	if m.asking {
		lines = append(lines, "", m.styles.Label.Render(m.input.Placeholder+":"), m.input.View())
	}
	if m.note != "" {
		lines = append(lines, m.styles.Blocking.Render(m.note))
	}

	body := m.styles.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	return body + "\n" + m.styles.Dim.Render(m.help.View(m.keys)) + "\n"
}

func digit(s string) int {
	if len(s) != 1 || s[0] < '1' || s[0] > '9' {
		return 0
	}
	return int(s[0] - '0')
}
