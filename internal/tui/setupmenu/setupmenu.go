// Package setupmenu implements the `sky setup` wizard.
//
// The wizard walks through three inputs and a confirmation:
//   - Assets directory: where embedding tables and the recipe dataset live
//   - Materials Project API key (optional, password-masked)
//   - OpenAI API key (optional, password-masked)
//
// Keys are written to the OS credential store only when the user confirms;
// the config file never contains them. An empty key input keeps whatever
// the environment or credential store already provides.
package setupmenu

import (
	"fmt"
	"path/filepath"
	"strings"

	"sky/internal/config"
	"sky/internal/credentials"
	"sky/internal/logging"
	"sky/internal/tui/components"
	"sky/internal/tui/helpers"
	"sky/internal/tui/helpers/settingshelpers"
	"sky/internal/tui/styles"
	"sky/pkg/fileops"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// SetupState represents the current state of the setup process
type SetupState int

const (
	SetupStateWelcome      SetupState = iota // Initial welcome screen
	SetupStateAssetsDir                      // Assets directory input
	SetupStateMPKey                          // Materials Project key (password-masked)
	SetupStateOpenAIKey                      // OpenAI key (password-masked)
	SetupStateConfirmation                   // Review and confirm configuration
	SetupStateComplete                       // Setup successfully completed
	SetupStateCancelled                      // Setup was cancelled by user
)

const (
	mpKeyPlaceholder     = "leave empty to skip"
	openAIKeyPlaceholder = "sk-... (leave empty to skip)"
)

type (
	setupErrorMsg    struct{ err error }
	setupCompleteMsg struct{}
)

// KeyStore resolves and saves API keys. *credentials.Manager implements it.
type KeyStore interface {
	Resolve(k credentials.Key) (string, credentials.Source)
	Store(k credentials.Key, value string) error
}

// SetupModel is the setup wizard. It uses pointer receivers throughout.
type SetupModel struct {
	state SetupState

	AssetsDir string
	MPKey     string
	OpenAIKey string
	Cancelled bool

	// ConfigPath is where the config is saved (default config.ConfigPath()).
	ConfigPath string

	base   config.Config
	keys   KeyStore
	logger *logging.AppLogger

	textInput textinput.Model
	layout    components.LayoutModel
}

// NewSetupModel creates the wizard. Values from ctx.Config, when present,
// seed the defaults so re-running setup edits the existing config.
func NewSetupModel(ctx helpers.UIContext, keys KeyStore) *SetupModel {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 512

	layout := components.NewLayout(components.LayoutConfig{MarginX: 2, MarginY: 1, MaxWidth: 100})
	if ctx.HasValidDimensions() {
		layout, _ = layout.Update(tea.WindowSizeMsg{Width: ctx.Width, Height: ctx.Height})
		ti.Width = layout.InputWidth()
	}

	base := config.DefaultConfig()
	if ctx.Config != nil {
		base = *ctx.Config
	}

	return &SetupModel{
		state:      SetupStateWelcome,
		ConfigPath: config.ConfigPath(),
		base:       base,
		keys:       keys,
		logger:     ctx.Logger,
		textInput:  ti,
		layout:     layout,
	}
}

// State returns the current wizard step.
func (m *SetupModel) State() SetupState { return m.state }

func (m *SetupModel) Init() tea.Cmd {
	m.logger.Debug("Setup wizard started", "config", m.ConfigPath)
	return textinput.Blink
}

func (m *SetupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.logger.LogMessage(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout, _ = m.layout.Update(msg)
		m.textInput.Width = m.layout.InputWidth()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case setupErrorMsg:
		m.layout = m.layout.SetError(msg.err)
		return m, nil

	case setupCompleteMsg:
		m.state = SetupStateComplete
		m.layout = m.layout.ClearError()
		return m, nil

	case helpers.DoneMsg:
		return m, tea.Quit
	}

	return m, nil
}

func (m *SetupModel) handleKeyPress(msg tea.KeyMsg) (*SetupModel, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m.handleQuit()
	}

	switch m.state {
	case SetupStateWelcome:
		return m.handleWelcomeKeys(msg)
	case SetupStateAssetsDir:
		return m.handleAssetsDirKeys(msg)
	case SetupStateMPKey:
		return m.handleMPKeyKeys(msg)
	case SetupStateOpenAIKey:
		return m.handleOpenAIKeyKeys(msg)
	case SetupStateConfirmation:
		return m.handleConfirmationKeys(msg)
	default:
		return m, done
	}
}

func (m *SetupModel) updateTextInput(msg tea.Msg) (*SetupModel, tea.Cmd) {
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	if m.layout.GetError() != nil {
		m.layout = m.layout.ClearError()
	}
	return m, cmd
}

func (m *SetupModel) handleWelcomeKeys(msg tea.KeyMsg) (*SetupModel, tea.Cmd) {
	switch msg.String() {
	case "enter", " ":
		return m, m.toAssetsDir()
	case "esc", "q":
		return m.handleQuit()
	}
	return m, nil
}

func (m *SetupModel) toAssetsDir() tea.Cmd {
	m.state = SetupStateAssetsDir
	m.layout = m.layout.ClearError()
	value := m.AssetsDir
	if value == "" {
		value = m.base.AssetsDir
	}
	return settingshelpers.ResetTextInputForState(&m.textInput, value, config.DefaultAssetsDir(), textinput.EchoNormal)
}

func (m *SetupModel) toMPKey() tea.Cmd {
	m.state = SetupStateMPKey
	m.layout = m.layout.ClearError()
	return settingshelpers.ResetTextInputForState(&m.textInput, m.MPKey, mpKeyPlaceholder, textinput.EchoPassword)
}

func (m *SetupModel) toOpenAIKey() tea.Cmd {
	m.state = SetupStateOpenAIKey
	m.layout = m.layout.ClearError()
	return settingshelpers.ResetTextInputForState(&m.textInput, m.OpenAIKey, openAIKeyPlaceholder, textinput.EchoPassword)
}

func (m *SetupModel) handleAssetsDirKeys(msg tea.KeyMsg) (*SetupModel, tea.Cmd) {
	switch msg.String() {
	case "enter":
		dir, err := settingshelpers.ValidateAndExpandAssetsDir(m.textInput.Value())
		if err != nil {
			m.logger.Warn("Assets directory validation failed", "error", err)
			return m, errCmd(err)
		}
		m.AssetsDir = dir
		return m, m.toMPKey()
	case "esc":
		m.state = SetupStateWelcome
		m.layout = m.layout.ClearError()
		return m, nil
	default:
		return m.updateTextInput(msg)
	}
}

func (m *SetupModel) handleMPKeyKeys(msg tea.KeyMsg) (*SetupModel, tea.Cmd) {
	switch msg.String() {
	case "enter":
		key := strings.TrimSpace(m.textInput.Value())
		if err := settingshelpers.ValidateAPIKey(key); err != nil {
			return m, errCmd(fmt.Errorf("invalid Materials Project key: %w", err))
		}
		m.MPKey = key
		return m, m.toOpenAIKey()
	case "esc":
		return m, m.toAssetsDir()
	default:
		return m.updateTextInput(msg)
	}
}

func (m *SetupModel) handleOpenAIKeyKeys(msg tea.KeyMsg) (*SetupModel, tea.Cmd) {
	switch msg.String() {
	case "enter":
		key := strings.TrimSpace(m.textInput.Value())
		if err := settingshelpers.ValidateAPIKey(key); err != nil {
			return m, errCmd(fmt.Errorf("invalid OpenAI key: %w", err))
		}
		m.OpenAIKey = key
		m.state = SetupStateConfirmation
		m.layout = m.layout.ClearError()
		return m, nil
	case "esc":
		return m, m.toMPKey()
	default:
		return m.updateTextInput(msg)
	}
}

func (m *SetupModel) handleConfirmationKeys(msg tea.KeyMsg) (*SetupModel, tea.Cmd) {
	switch msg.String() {
	case "y", "Y", "enter":
		return m, m.createConfig()
	case "n", "N", "esc":
		return m, m.toOpenAIKey()
	case "q":
		return m.handleQuit()
	}
	return m, nil
}

// createConfig saves the configuration asynchronously.
func (m *SetupModel) createConfig() tea.Cmd {
	return func() tea.Msg {
		if err := m.performConfigCreation(); err != nil {
			m.logger.Error("Configuration creation failed", "error", err)
			return setupErrorMsg{err}
		}
		return setupCompleteMsg{}
	}
}

func (m *SetupModel) performConfigCreation() error {
	if err := fileops.EnsureDirectoryExists(filepath.Join(m.AssetsDir, "embedding")); err != nil {
		return fmt.Errorf("failed to create assets directory: %w", err)
	}

	cfg := m.base
	cfg.AssetsDir = m.AssetsDir
	if err := cfg.SaveTo(m.ConfigPath); err != nil {
		return err
	}

	for _, k := range []struct {
		key   credentials.Key
		value string
	}{{credentials.MPKey, m.MPKey}, {credentials.OpenAIKey, m.OpenAIKey}} {
		if k.value == "" {
			continue
		}
		if err := m.keys.Store(k.key, k.value); err != nil {
			return err
		}
		m.logger.Info("Stored API key", "key", k.key)
	}
	return nil
}

func (m *SetupModel) handleQuit() (*SetupModel, tea.Cmd) {
	m.logger.Warn("Setup cancelled by user")
	m.Cancelled = true
	m.state = SetupStateCancelled
	return m, done
}

func done() tea.Msg { return helpers.DoneMsg{} }

func errCmd(err error) tea.Cmd {
	return func() tea.Msg { return setupErrorMsg{err} }
}

func (m *SetupModel) View() string {
	switch m.state {
	case SetupStateWelcome:
		return m.viewWelcome()
	case SetupStateAssetsDir:
		return m.viewInput("📁 Assets Directory",
			"Where are the sky data files?",
			"The directory holds embedding/ (similarity tables) and the synthesis recipe dataset. It is created if missing.")
	case SetupStateMPKey:
		return m.viewInput("🔑 Materials Project API Key",
			"Used for material properties and synthesis recipes.",
			"Current: "+m.keyStatus(credentials.MPKey, ""))
	case SetupStateOpenAIKey:
		return m.viewInput("🔑 OpenAI API Key",
			"Used by `sky chat` and synthesis reports.",
			"Current: "+m.keyStatus(credentials.OpenAIKey, ""))
	case SetupStateConfirmation:
		return m.viewConfirmation()
	case SetupStateComplete:
		return m.viewComplete()
	case SetupStateCancelled:
		return styles.ErrorStyle.Render("Setup cancelled. sky was not configured.")
	}
	return ""
}

func (m *SetupModel) keyStatus(k credentials.Key, entered string) string {
	_, src := m.keys.Resolve(k)
	return settingshelpers.KeyStatus(entered, src)
}

func (m *SetupModel) viewWelcome() string {
	m.layout = m.layout.
		SetTitle("🔬 Welcome to sky").
		SetSubtitle("Let's configure the synthesis agent.").
		SetHelpText("Enter to continue • Esc to cancel")

	return m.layout.Render(`We'll set up:
• The assets directory with embedding tables and recipes
• A Materials Project API key (optional)
• An OpenAI API key for reports and chat (optional)`)
}

func (m *SetupModel) viewInput(title, subtitle, explanation string) string {
	help := "Enter to continue • Esc to go back • Ctrl+C to cancel"
	if m.state == SetupStateAssetsDir {
		help += " • Use ~ for home directory"
	}
	m.layout = m.layout.SetTitle(title).SetSubtitle(subtitle).SetHelpText(help)

	content := explanation + "\n\n" + styles.InputStyle.Render(m.textInput.View())
	return m.layout.Render(content)
}

func (m *SetupModel) viewConfirmation() string {
	m.layout = m.layout.
		SetTitle("✅ Confirm Configuration").
		SetSubtitle("Please review your settings:").
		SetHelpText("y to confirm • n to go back • q to cancel")

	lines := []string{
		"Config file: " + m.ConfigPath,
		"Assets directory: " + m.AssetsDir,
		"Materials Project key: " + m.keyStatus(credentials.MPKey, m.MPKey),
		"OpenAI key: " + m.keyStatus(credentials.OpenAIKey, m.OpenAIKey),
		"",
	}
	lines = append(lines, settingshelpers.AssetSummary(m.AssetsDir)...)
	return m.layout.Render(strings.Join(lines, "\n"))
}

func (m *SetupModel) viewComplete() string {
	m.layout = m.layout.
		SetTitle("🎉 Setup Complete!").
		SetSubtitle("").
		SetHelpText("Press any key to exit")

	return m.layout.Render(styles.SuccessStyle.Render("sky has been configured.") +
		"\n\nTry `sky search Fe2O3`, `sky chat` or `sky mcp`.")
}
