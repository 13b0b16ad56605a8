package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

const (
	roleUser  = "user"
	roleAgent = "agent"
	roleError = "error"

	mouseScrollLines = 3
)

// Conversation is a live chat session with the gateway. Replies arrive
// asynchronously and in order; the channel closes when the session ends.
type Conversation interface {
	Send(ctx context.Context, text string) error
	Replies() <-chan string
}

// RuntimeInfo is shown in the header.
type RuntimeInfo struct {
	Gateway  string
	ClientID string
	UserName string
}

type chatMessage struct {
	role    string
	content string
}

type replyMsg struct {
	text string
}

type streamClosedMsg struct{}

type sendResultMsg struct {
	err error
}

type bootTickMsg struct{}

type model struct {
	ctx          context.Context
	conversation Conversation
	mode         mode
	oneShotInput string

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	width     int
	height    int
	isReady   bool
	pending   int
	lastErr   string
	closed    bool
	booting   bool
	bootStep  int
	followLog bool
	runtime   RuntimeInfo
}

func newModel(ctx context.Context, conversation Conversation, runMode mode, prompt string, info RuntimeInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(colorFoam)

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Escribe tu mensaje..."
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		ctx:          ctx,
		conversation: conversation,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(prompt),
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     vp,
		width:        100,
		height:       28,
		booting:      runMode == modeInteractive,
		followLog:    true,
		runtime:      info,
	}
}

func (m *model) Init() tea.Cmd {
	listen := waitReplyCmd(m.replies())

	if m.mode == modeOneShot && m.oneShotInput != "" {
		return tea.Batch(listen, m.send(m.oneShotInput))
	}

	return tea.Batch(listen, bootTickCmd())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if m.mode == modeInteractive && !m.booting {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting || m.mode == modeOneShot {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			prompt := strings.TrimSpace(m.input.Value())
			if prompt == "" || m.closed {
				return m, nil
			}
			if isExitCommand(prompt) {
				return m, tea.Quit
			}

			m.input.SetValue("")
			return m, m.send(prompt)
		}
	case replyMsg:
		if m.pending > 0 {
			m.pending--
		}
		m.lastErr = ""
		m.messages = append(m.messages, chatMessage{role: roleAgent, content: typed.text})
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
		return m, waitReplyCmd(m.replies())
	case streamClosedMsg:
		m.closed = true
		m.pending = 0
		m.lastErr = "connection closed"
		m.messages = append(m.messages, chatMessage{role: roleError, content: "La conexión con el gateway se cerró."})
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
		return m, nil
	case sendResultMsg:
		if typed.err != nil {
			if m.pending > 0 {
				m.pending--
			}
			m.lastErr = typed.err.Error()
			m.messages = append(m.messages, chatMessage{role: roleError, content: typed.err.Error()})
			m.refreshViewport(false)
			if m.mode == modeOneShot {
				return m, tea.Quit
			}
		}
		return m, nil
	case spinner.TickMsg:
		if m.pending == 0 {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	if m.mode == modeInteractive {
		m.input, cmd = m.input.Update(msg)
	}

	return m, cmd
}

// send records the user turn and writes it to the gateway. The reply comes
// back later through the reply stream.
func (m *model) send(text string) tea.Cmd {
	m.lastErr = ""
	m.messages = append(m.messages, chatMessage{role: roleUser, content: text})
	m.pending++
	m.followLog = true
	m.refreshViewport(true)

	return tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.conversation, text))
}

func (m *model) replies() <-chan string {
	if m.conversation == nil {
		return nil
	}
	return m.conversation.Replies()
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("📟 INASC Chat")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"gateway:%s · client:%s · user:%s · turns:%d",
		displayOrNA(m.runtime.Gateway),
		displayOrNA(m.runtime.ClientID),
		displayOrNA(m.runtime.UserName),
		conversationTurns(m.messages),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
	if m.pending > 0 {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ waiting for %d repl%s...", m.spinner.View(), m.pending, plural(m.pending)))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 " + m.lastErr)
	}

	parts := []string{header, meta, line, m.theme.transcript.Width(m.width - 2).Render(m.viewport.View()), status}

	parts = append(parts,
		m.theme.promptLabel.Render("👤 Tú")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.prompt.Width(m.width-2).Render(m.input.View()),
	)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := m.height - 10
	if m.mode == modeOneShot {
		h = m.height - 6
	}
	h = max(8, h)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	var sections []string
	for _, item := range m.messages {
		switch item.role {
		case roleUser:
			sections = append(sections, m.renderCard(
				m.theme.customer.badge.Render("Tú"),
				m.theme.customer.bubble.Width(m.viewport.Width - customerIndent).Render(strings.TrimSpace(item.content)),
			))
		case roleAgent:
			sections = append(sections, m.renderCard(
				m.theme.agent.badge.Render("Asesor"),
				m.theme.agent.bubble.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		case roleError:
			sections = append(sections, m.renderCard(
				m.theme.failure.badge.Render("Error"),
				m.theme.failure.bubble.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) oneShotView() string {
	contentWidth := max(40, m.width-6)
	parts := []string{m.renderCard(
		m.theme.customer.badge.Render("Tú · enviado"),
		m.theme.customer.bubble.Width(contentWidth - customerIndent).Render(strings.TrimSpace(m.oneShotInput)),
	)}

	if m.lastErr != "" {
		parts = append(parts,
			m.renderCard(
				m.theme.failure.badge.Render("Error"),
				m.theme.failure.bubble.Width(contentWidth).Render(strings.TrimSpace(m.lastErr)),
			),
		)
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
	}

	if m.pending > 0 {
		parts = append(parts, m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ waiting for the agent...", m.spinner.View())))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	parts = append(parts,
		m.renderCard(
			m.theme.agent.badge.Render("Asesor · respuesta"),
			m.theme.agent.bubble.Width(contentWidth).Render(strings.TrimSpace(m.lastReply())),
		),
	)

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) lastReply() string {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].role == roleAgent {
			return m.messages[i].content
		}
	}
	return ""
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("📟 INASC Chat")
	meta := m.theme.headerMeta.Render("connecting")
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := range count {
		visible = append(visible, m.theme.boot.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("✅ chat online"))
	}

	body := m.theme.transcript.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.SetYOffset(m.viewport.YOffset - mouseScrollLines)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.SetYOffset(m.viewport.YOffset + mouseScrollLines)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] resolving gateway",
		"[BOOT] opening websocket",
		"[BOOT] registering client id",
	}
}

func sendCmd(ctx context.Context, conversation Conversation, text string) tea.Cmd {
	return func() tea.Msg {
		if conversation == nil {
			return sendResultMsg{err: fmt.Errorf("not connected")}
		}
		return sendResultMsg{err: conversation.Send(ctx, text)}
	}
}

// waitReplyCmd blocks for the next reply. A nil channel never yields.
func waitReplyCmd(replies <-chan string) tea.Cmd {
	if replies == nil {
		return nil
	}
	return func() tea.Msg {
		text, ok := <-replies
		if !ok {
			return streamClosedMsg{}
		}
		return replyMsg{text: text}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == roleUser {
			count++
		}
	}

	return count
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
