package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"jarvis-shell/internal/cache"
	"jarvis-shell/internal/executor"
	"jarvis-shell/internal/pipeline"
	"jarvis-shell/internal/profile"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FF9F")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888")).
			Italic(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7DF9FF")).
			Bold(true)

	cmdStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700")).
			Italic(true)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCC"))

	stderrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF8888"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4444")).
			Bold(true)

	confirmStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555"))
)

// maxOutputLines caps how many output lines of one command are shown.
const maxOutputLines = 30

const headerLines = 4

// eventMsg carries one pipeline event together with the stream it came from.
type eventMsg struct {
	ev pipeline.Event
	ch <-chan pipeline.Event
}

// streamClosedMsg is sent once a request's event stream is exhausted.
type streamClosedMsg struct {
	ch <-chan pipeline.Event
}

// ProfileChangedMsg tells the UI that a config reload switched the active profile.
type ProfileChangedMsg struct {
	Profile *profile.Profile
}

// Model is the BubbleTea model
type Model struct {
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	session  *pipeline.Session
	ctx      context.Context

	messages       []string
	status         string
	workDir        string
	ready          bool
	processing     bool
	pendingConfirm string
	events         <-chan pipeline.Event
	shownLines     int
	hiddenLines    int
	width          int
	height         int
}

func NewModel(ctx context.Context, s *pipeline.Session, workDir string) Model {
	ta := textarea.New()
	ta.Placeholder = "Type your request... (e.g., 'list all files on my desktop')"
	ta.Focus()
	ta.CharLimit = 500
	ta.SetHeight(2)
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	p := s.Pipeline().Profile()
	return Model{
		viewport: vp,
		textarea: ta,
		session:  s,
		ctx:      ctx,
		spinner:  sp,
		status:   "Ready",
		workDir:  workDir,
		messages: []string{
			"🤖 Jarvis: plain English in, " + p.DisplayName + " commands out",
			"Say what you want done, or type a command from either shell.",
			"Commands: /clear (reset screen) • /cache (cached commands) • /profile • exit (quit)",
			"",
		},
	}
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.session.Cancel()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.processing {
				m.session.Cancel()
				m.events = nil
				m.finish(statusStyle.Render("✗ Cancelled"))
				return m, nil
			}
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}

			m.textarea.Reset()

			// Handle confirmation response
			if m.pendingConfirm != "" {
				return m.handleConfirmation(input)
			}

			// Handle slash commands
			if strings.HasPrefix(input, "/") {
				return m.handleSlashCommand(input)
			}

			if m.processing {
				m.addMessage(statusStyle.Render("  (previous request cancelled)"))
			}
			m.addMessage(userStyle.Render("You: ") + input)
			m.status = "🧠 Thinking..."
			m.processing = true
			m.updateViewport()

			listen := m.listen(m.session.Submit(m.ctx, input))
			return m, tea.Batch(m.spinner.Tick, listen)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Adaptive layout: allocate space for header, input, help
		headerHeight := 1
		helpHeight := 1
		inputHeight := 4 // textarea + padding
		vpHeight := m.height - headerHeight - helpHeight - inputHeight
		if vpHeight < 3 {
			vpHeight = 3
		}

		vpWidth := m.width
		if vpWidth < 20 {
			vpWidth = 20
		}

		m.viewport.Width = vpWidth
		m.viewport.Height = vpHeight
		m.textarea.SetWidth(vpWidth)
		m.ready = true
		m.updateViewport()
		return m, nil

	case eventMsg:
		if msg.ch != m.events {
			// A superseded request; its stream is being torn down.
			return m, nil
		}
		return m.handleEvent(msg.ev)

	case streamClosedMsg:
		if msg.ch == m.events {
			m.events = nil
			if m.processing {
				m.finish("")
			}
		}
		return m, nil

	case ProfileChangedMsg:
		m.addMessage(statusStyle.Render(fmt.Sprintf("🔁 Profile switched to %s, cache cleared", msg.Profile.DisplayName)))
		m.updateViewport()
		return m, nil

	case spinner.TickMsg:
		if m.processing {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	// Update sub-components
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// listen makes ch the active stream and waits for its first event.
func (m *Model) listen(ch <-chan pipeline.Event) tea.Cmd {
	m.events = ch
	m.shownLines = 0
	m.hiddenLines = 0
	return waitForEvent(ch)
}

func waitForEvent(ch <-chan pipeline.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{ch: ch}
		}
		return eventMsg{ev: ev, ch: ch}
	}
}

func (m *Model) handleEvent(ev pipeline.Event) (tea.Model, tea.Cmd) {
	next := waitForEvent(m.events)

	switch ev.Type {
	case pipeline.EventResolved:
		line := "  → " + ev.Command
		if ev.Source == cache.SourceModel {
			line += "  (model)"
		}
		m.addMessage(cmdStyle.Render(line))
		m.status = "⚡ Executing..."

	case pipeline.EventOutput:
		if m.shownLines >= maxOutputLines {
			m.hiddenLines++
			break
		}
		m.shownLines++
		if ev.Line.Stream == executor.Stderr {
			m.addMessage(stderrStyle.Render(ev.Line.Text))
		} else {
			m.addMessage(resultStyle.Render(ev.Line.Text))
		}

	case pipeline.EventDone:
		m.handleExecResult(ev.Result)

	case pipeline.EventConfirm:
		m.addMessage(confirmStyle.Render(ev.Reason))
		m.pendingConfirm = ev.Command
		m.status = "Awaiting confirmation..."
		m.processing = false

	case pipeline.EventUnresolved:
		m.addMessage(errorStyle.Render(ev.Err.Message))
		m.finish("")

	case pipeline.EventCancelled:
		m.finish(statusStyle.Render("✗ Cancelled"))

	case pipeline.EventExit:
		m.updateViewport()
		return m, tea.Quit
	}

	m.updateViewport()
	return m, next
}

func (m *Model) handleSlashCommand(input string) (tea.Model, tea.Cmd) {
	switch strings.ToLower(input) {
	case "/clear":
		m.messages = m.messages[:headerLines] // Keep header
		m.addMessage(statusStyle.Render("💫 Screen cleared"))
	case "/cache":
		entries := m.session.Pipeline().Cache().Entries()
		if len(entries) == 0 {
			m.addMessage(statusStyle.Render("Cache is empty"))
		} else {
			m.addMessage(statusStyle.Render(fmt.Sprintf("📜 %d cached commands:", len(entries))))
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				m.addMessage(fmt.Sprintf("  [%s] %s → %s", e.LastUsed.Format("15:04"), e.Key, e.Command))
			}
		}
	case "/profile":
		p := m.session.Pipeline().Profile()
		m.addMessage(statusStyle.Render(fmt.Sprintf("Profile: %s (%s)", p.DisplayName, p.ID)))
	case "/exit", "/quit":
		m.session.Cancel()
		return m, tea.Quit
	default:
		m.addMessage(statusStyle.Render("Unknown command: " + input))
	}
	m.updateViewport()
	return m, nil
}

func (m *Model) handleConfirmation(input string) (tea.Model, tea.Cmd) {
	cmd := m.pendingConfirm
	m.pendingConfirm = ""

	lower := strings.ToLower(strings.TrimSpace(input))
	if lower == "y" || lower == "yes" {
		m.addMessage(statusStyle.Render("✓ Confirmed, executing..."))
		m.status = "⚡ Executing..."
		m.processing = true
		m.updateViewport()
		return m, tea.Batch(m.spinner.Tick, m.listen(m.session.Execute(m.ctx, cmd)))
	}

	m.finish(statusStyle.Render("✗ Cancelled"))
	m.updateViewport()
	return m, nil
}

func (m *Model) handleExecResult(result *executor.Result) {
	if m.hiddenLines > 0 {
		m.addMessage(resultStyle.Render(fmt.Sprintf("... (%d more lines)", m.hiddenLines)))
	}
	switch {
	case result == nil:
	case result.Success:
		m.addMessage(
			statusStyle.Render(fmt.Sprintf("  ✓ Done (%.1fs)", result.Duration.Seconds())))
	default:
		m.addMessage(errorStyle.Render(fmt.Sprintf("  ✗ %s", result.Error)))
	}

	if result != nil && result.CurrentWorkDir != "" {
		m.workDir = result.CurrentWorkDir
	}
	m.finish("")
}

// finish returns the model to the idle state.
func (m *Model) finish(note string) {
	if note != "" {
		m.addMessage(note)
	}
	m.status = "Ready"
	m.processing = false
	m.addMessage("")
	m.updateViewport()
}

// addMessage adds a message with word wrapping to fit the viewport width
func (m *Model) addMessage(msg string) {
	if m.width > 4 {
		msg = wrapText(msg, m.width-2)
	}
	m.messages = append(m.messages, msg)
}

func (m *Model) updateViewport() {
	content := strings.Join(m.messages, "\n")
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading Jarvis..."
	}

	header := ""
	if m.processing {
		header = fmt.Sprintf("%s %s %s", titleStyle.Render("🤖 Jarvis"), m.spinner.View(), statusStyle.Render(m.status))
	} else {
		header = titleStyle.Render("🤖 Jarvis") + "  " + statusStyle.Render(m.status+" • "+m.workDir)
	}

	chatArea := m.viewport.View()

	input := m.textarea.View()

	help := helpStyle.Render(" Enter: send • Esc: cancel • /clear: reset • exit: quit • Ctrl+C: force quit")

	return fmt.Sprintf("%s\n%s\n%s\n%s", header, chatArea, input, help)
}

// wrapText soft-wraps a string at maxWidth, respecting word boundaries
func wrapText(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return s
	}

	var result strings.Builder
	lines := strings.Split(s, "\n")

	for i, line := range lines {
		if i > 0 {
			result.WriteByte('\n')
		}

		// Get the visible length (without ANSI codes)
		plain := stripAnsi(line)
		if len(plain) <= maxWidth {
			result.WriteString(line)
			continue
		}

		// Need to wrap: work on the plain text
		currentLen := 0
		for _, word := range strings.Fields(plain) {
			wordLen := len(word)
			if currentLen+wordLen+1 > maxWidth && currentLen > 0 {
				result.WriteByte('\n')
				currentLen = 0
			}
			if currentLen > 0 {
				result.WriteByte(' ')
				currentLen++
			}
			result.WriteString(word)
			currentLen += wordLen
		}
	}

	return result.String()
}

// stripAnsi removes ANSI escape codes for clean text measurement
func stripAnsi(s string) string {
	var result strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '\x1b' {
			for i < len(s) && s[i] != 'm' {
				i++
			}
			i++ // skip the 'm'
			continue
		}
		result.WriteByte(s[i])
		i++
	}
	return result.String()
}
