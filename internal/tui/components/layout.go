// Package components holds layout pieces shared by the sky TUI screens.
package components

import (
	"strings"

	"sky/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
)

type LayoutConfig struct {
	Title    string
	Subtitle string
	HelpText string
	MarginX  int
	MarginY  int
	MaxWidth int
}

// LayoutModel renders a titled screen with optional error and help lines,
// wrapped to the terminal width.
type LayoutModel struct {
	config LayoutConfig
	width  int
	height int
	err    error
}

func NewLayout(config LayoutConfig) LayoutModel {
	if config.MarginX == 0 {
		config.MarginX = 2
	}
	if config.MarginY == 0 {
		config.MarginY = 1
	}
	if config.MaxWidth == 0 {
		config.MaxWidth = 100
	}

	return LayoutModel{config: config}
}

func (m LayoutModel) Update(msg tea.Msg) (LayoutModel, tea.Cmd) {
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		m.width = msg.Width
		m.height = msg.Height
	}
	return m, nil
}

func (m LayoutModel) SetTitle(title string) LayoutModel {
	m.config.Title = title
	return m
}

func (m LayoutModel) SetSubtitle(subtitle string) LayoutModel {
	m.config.Subtitle = subtitle
	return m
}

func (m LayoutModel) SetHelpText(helpText string) LayoutModel {
	m.config.HelpText = helpText
	return m
}

func (m LayoutModel) SetError(err error) LayoutModel {
	if err != nil {
		m.err = err
	}
	return m
}

func (m LayoutModel) ClearError() LayoutModel {
	m.err = nil
	return m
}

func (m LayoutModel) GetError() error {
	return m.err
}

// Render lays out title, subtitle, content, error and help, in that order.
func (m LayoutModel) Render(content string) string {
	sections := []string{}
	width := m.ContentWidth()

	if m.config.Title != "" {
		sections = append(sections, styles.TitleStyle.Render(Wrap(m.config.Title, width)))
	}
	if m.config.Subtitle != "" {
		sections = append(sections, styles.SubtitleStyle.Render(Wrap(m.config.Subtitle, width)))
	}
	if content != "" {
		sections = append(sections, styles.NormalTextStyle.Render(Wrap(content, width)))
	}
	if m.err != nil {
		sections = append(sections, styles.ErrorStyle.Render(Wrap("Error: "+m.err.Error(), width)))
	}
	if m.config.HelpText != "" {
		sections = append(sections, styles.HelpStyle.Render(Wrap(m.config.HelpText, width)))
	}

	return m.addMargins(strings.Join(sections, "\n\n"))
}

// Wrap word-wraps text to width, keeping manual line breaks, and hard-wraps
// words longer than width (paths, API keys).
func Wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, " ")
		if line == "" {
			lines[i] = ""
			continue
		}
		lines[i] = wrap.String(wordwrap.String(line, width), width)
	}
	return strings.Join(lines, "\n")
}

func (m LayoutModel) addMargins(content string) string {
	lines := strings.Split(content, "\n")
	marginLeft := strings.Repeat(" ", m.config.MarginX)

	for i, line := range lines {
		lines[i] = marginLeft + line
	}

	margin := strings.Repeat("\n", m.config.MarginY)
	return margin + strings.Join(lines, "\n") + margin
}

// ContentWidth is the usable width between the margins, clamped to
// [40, MaxWidth].
func (m LayoutModel) ContentWidth() int {
	available := m.width - (m.config.MarginX * 2)
	if available > m.config.MaxWidth {
		return m.config.MaxWidth
	}
	if available < 40 {
		return 40 // Minimum readable width
	}
	return available
}

func (m LayoutModel) ContentHeight() int {
	return m.height - (m.config.MarginY * 2) - 6 // Reserve space for sections
}

// InputWidth is the width of text inputs, clamped to [30, 80].
func (m LayoutModel) InputWidth() int {
	inputWidth := m.ContentWidth() - 8

	if inputWidth > 80 {
		return 80
	}
	if inputWidth < 30 {
		return 30
	}
	return inputWidth
}
