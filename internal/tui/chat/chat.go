// Package chat is the `sky chat` screen: a prompt box under a scrolling
// transcript. Each prompt is answered by a Responder (the synthesis report
// agent in production) and replies are rendered as Markdown with glamour.
//
// Commands typed into the prompt:
//
//	/quit, /exit   leave the chat
//	/clear         clear the transcript
//	/help          list commands
package chat

import (
	"context"
	"strings"

	"sky/internal/logging"
	"sky/internal/tui/components"
	"sky/internal/tui/helpers"
	"sky/internal/tui/styles"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const helpText = "Enter to send • /clear • /quit • PgUp/PgDn to scroll"

const commandHelp = "Commands:\n\n- `/quit` or `/exit`: leave the chat\n- `/clear`: clear the transcript\n- `/help`: show this list\n\n" +
	"Anything else is sent to the synthesis agent, e.g. *How do I make LiFePO4?*"

// Responder answers one prompt.
type Responder interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, prompt string) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Role identifies the author of a transcript entry.
type Role int

const (
	RoleUser Role = iota
	RoleAgent
	RoleSystem
)

// Message is one transcript entry.
type Message struct {
	Role    Role
	Content string
	Err     bool
}

type responseMsg struct {
	text string
	err  error
}

// ChatModel is the chat screen.
type ChatModel struct {
	ctx       context.Context
	responder Responder
	logger    *logging.AppLogger

	messages []Message
	waiting  bool

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	style    string
	renderer *glamour.TermRenderer
	width    int
	height   int
}

// Option configures a ChatModel.
type Option func(*ChatModel)

// WithGlamourStyle selects a glamour standard style ("dark", "light",
// "notty", ...). The default is "dark".
func WithGlamourStyle(style string) Option {
	return func(m *ChatModel) { m.style = style }
}

// WithContext sets the context prompts are answered under.
func WithContext(ctx context.Context) Option {
	return func(m *ChatModel) { m.ctx = ctx }
}

// NewChatModel creates a chat screen answering with r.
func NewChatModel(uictx helpers.UIContext, r Responder, opts ...Option) *ChatModel {
	ta := textarea.New()
	ta.Placeholder = "Ask about a material, e.g. LiFePO4"
	ta.ShowLineNumbers = false
	ta.CharLimit = 2000
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.SpinnerStyle

	m := &ChatModel{
		ctx:       context.Background(),
		responder: r,
		logger:    uictx.Logger,
		viewport:  viewport.New(80, 10),
		input:     ta,
		spinner:   sp,
		style:     "dark",
	}
	for _, o := range opts {
		o(m)
	}
	m.resize(uictx.Width, uictx.Height)
	return m
}

// Messages returns the transcript.
func (m *ChatModel) Messages() []Message { return m.messages }

// Waiting reports whether a reply is pending.
func (m *ChatModel) Waiting() bool { return m.waiting }

func (m *ChatModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.logger.LogMessage(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case responseMsg:
		m.waiting = false
		if msg.err != nil {
			m.logger.Warn("Chat reply failed", "error", msg.err)
			m.append(Message{Role: RoleAgent, Content: "Request failed: " + msg.err.Error(), Err: true})
		} else {
			m.append(Message{Role: RoleAgent, Content: msg.text})
		}
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *ChatModel) submit() (tea.Model, tea.Cmd) {
	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" || m.waiting {
		return m, nil
	}
	m.input.Reset()

	switch strings.ToLower(prompt) {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/clear":
		m.messages = nil
		m.refresh()
		return m, nil
	case "/help":
		m.append(Message{Role: RoleSystem, Content: commandHelp})
		return m, nil
	}

	m.append(Message{Role: RoleUser, Content: prompt})
	m.waiting = true
	return m, tea.Batch(m.spinner.Tick, m.ask(prompt))
}

func (m *ChatModel) ask(prompt string) tea.Cmd {
	ctx, r := m.ctx, m.responder
	return func() tea.Msg {
		text, err := r.Respond(ctx, prompt)
		return responseMsg{text: text, err: err}
	}
}

func (m *ChatModel) append(msg Message) {
	m.messages = append(m.messages, msg)
	m.refresh()
}

func (m *ChatModel) resize(width, height int) {
	if width <= 0 || height <= 0 {
		width, height = 80, 24
	}
	m.width, m.height = width, height

	inner := max(width-4, 20)
	m.input.SetWidth(inner)
	// Header, prompt box, help and borders.
	m.viewport.Width = inner
	m.viewport.Height = max(height-m.input.Height()-8, 3)

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(inner-2),
	)
	if err != nil {
		m.logger.Warn("Falling back to plain text replies", "error", err)
		r = nil
	}
	m.renderer = r
	m.refresh()
}

func (m *ChatModel) refresh() {
	parts := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		parts = append(parts, m.renderMessage(msg))
	}
	m.viewport.SetContent(strings.Join(parts, "\n"))
	m.viewport.GotoBottom()
}

func (m *ChatModel) renderMessage(msg Message) string {
	width := m.viewport.Width
	switch msg.Role {
	case RoleUser:
		return styles.UserLabelStyle.Render("You") + "\n" + components.Wrap(msg.Content, width) + "\n"
	case RoleSystem:
		return m.markdown(msg.Content, width)
	}
	if msg.Err {
		return styles.AgentLabelStyle.Render("sky") + "\n" + styles.ErrorStyle.Render(components.Wrap(msg.Content, width)) + "\n"
	}
	return styles.AgentLabelStyle.Render("sky") + "\n" + m.markdown(msg.Content, width)
}

func (m *ChatModel) markdown(content string, width int) string {
	if m.renderer != nil {
		if out, err := m.renderer.Render(content); err == nil {
			return out
		}
	}
	return components.Wrap(content, width) + "\n"
}

func (m *ChatModel) View() string {
	header := styles.HeaderContainerStyle.Render(
		styles.TitleStyle.Render("🔬 sky chat") + " " + styles.MutedStyle.Render("materials synthesis agent"))

	transcript := m.viewport.View()
	if len(m.messages) == 0 {
		transcript = lipgloss.PlaceVertical(m.viewport.Height, lipgloss.Top,
			styles.MutedStyle.Render("Type /help for commands."))
	}

	status := helpText
	if m.waiting {
		status = m.spinner.View() + " thinking..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		styles.MainContainerStyle.Render(styles.PaneStyle.Render(transcript)),
		styles.MainContainerStyle.Render(styles.PaneFocusedStyle.Render(m.input.View())),
		styles.HelpContainerStyle.Render(styles.HelpStyle.Render(status)),
	)
}
