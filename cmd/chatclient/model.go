package main

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/npezzotti/go-chatsync/internal/apierror"
	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/session"
)

type viewChangedMsg struct{}

type notesChangedMsg struct{}

type commandDoneMsg struct {
	output string
	quit   bool
	err    error
}

type styles struct {
	header lipgloss.Style
	notes  lipgloss.Style
	status lipgloss.Style
	failed lipgloss.Style
}

func newStyles() styles {
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#01cdfe")),
		notes:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")),
		status: lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3d8")),
		failed: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff71ce")).Bold(true),
	}
}

type model struct {
	ctx     context.Context
	shell   *shell
	updates <-chan struct{}
	noteCh  <-chan struct{}
	styles  styles

	input    textinput.Model
	timeline viewport.Model

	current session.View
	notices []notify.Notification
	status  string
	failed  bool
	width   int
	height  int

	// err is returned by the program once it exits.
	err error
}

func newModel(ctx context.Context, sh *shell, noteCh <-chan struct{}) model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "message or /help"
	input.CharLimit = 2000
	input.Focus()

	return model{
		ctx:      ctx,
		shell:    sh,
		updates:  sh.session.Updates(),
		noteCh:   noteCh,
		styles:   newStyles(),
		input:    input,
		timeline: viewport.New(0, 0),
	}
}

// signalNotes returns a notify listener that wakes the model when the
// notification list changes. Signals are coalesced.
func signalNotes(ch chan<- struct{}) func(notify.Event) {
	return func(notify.Event) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		// the first view arms the wait for the next one
		func() tea.Msg { return viewChangedMsg{} },
		m.waitForNotes(),
	)
}

func (m model) waitForView() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.updates:
			return viewChangedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m model) waitForNotes() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.noteCh:
			return notesChangedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m model) execCmd(line string) tea.Cmd {
	return func() tea.Msg {
		var out bytes.Buffer
		quit, err := m.shell.exec(m.ctx, line, &out)
		return commandDoneMsg{output: strings.TrimRight(out.String(), "\n"), quit: quit, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case viewChangedMsg:
		m.current = m.shell.session.Snapshot()
		if errors.Is(m.current.Err, apierror.ErrUnauthorized) {
			m.err = errReauthenticate
			return m, tea.Quit
		}
		m.renderPanes()
		cmds = append(cmds, m.waitForView())
	case notesChangedMsg:
		m.notices = m.shell.notes.List()
		m.renderPanes()
		cmds = append(cmds, m.waitForNotes())
	case commandDoneMsg:
		if errors.Is(msg.err, apierror.ErrUnauthorized) {
			m.err = errReauthenticate
			return m, tea.Quit
		}
		if msg.quit {
			return m, tea.Quit
		}
		m.status, m.failed = msg.output, false
		if msg.err != nil {
			m.status, m.failed = "!! "+msg.err.Error(), true
		}
		m.renderPanes()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			line := m.input.Value()
			m.input.Reset()
			if strings.TrimSpace(line) == "" {
				return m, nil
			}
			return m, m.execCmd(line)
		case "pgup":
			m.timeline.LineUp(8)
			return m, nil
		case "pgdown":
			m.timeline.LineDown(8)
			return m, nil
		case "home":
			m.timeline.GotoTop()
			return m, nil
		case "end":
			m.timeline.GotoBottom()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	sections := []string{m.renderHeader(), m.timeline.View()}
	if notes := m.renderNotes(); notes != "" {
		sections = append(sections, notes)
	}
	if status := m.renderStatus(); status != "" {
		sections = append(sections, status)
	}
	sections = append(sections, m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *model) renderHeader() string {
	return m.styles.header.Render(m.shell.view.header(m.current))
}

func (m *model) renderNotes() string {
	if len(m.notices) == 0 {
		return ""
	}
	return m.styles.notes.Render(m.shell.view.notifications(m.notices))
}

func (m *model) renderStatus() string {
	if m.status == "" {
		return ""
	}
	if m.failed {
		return m.styles.failed.Render(m.status)
	}
	return m.styles.status.Render(m.status)
}

// renderPanes redraws the whole room into the timeline. The session's
// merged order is the only order shown.
func (m *model) renderPanes() {
	chrome := lipgloss.Height(m.renderHeader()) + 1
	if notes := m.renderNotes(); notes != "" {
		chrome += lipgloss.Height(notes)
	}
	if status := m.renderStatus(); status != "" {
		chrome += lipgloss.Height(status)
	}

	m.timeline.Width = max(20, m.width)
	m.timeline.Height = max(3, m.height-chrome)
	m.timeline.SetContent(m.shell.view.timeline(m.current))
	m.timeline.GotoBottom()
}

func (m *model) resize() {
	m.input.Width = max(10, m.width-len(m.input.Prompt)-1)
}
