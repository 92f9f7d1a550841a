package setupmenu

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sky/internal/config"
	"sky/internal/credentials"
	"sky/internal/logging"
	"sky/internal/tui/helpers"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeKeyStore struct {
	stored   map[credentials.Key]string
	env      map[credentials.Key]string
	storeErr error
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{stored: map[credentials.Key]string{}, env: map[credentials.Key]string{}}
}

func (f *fakeKeyStore) Resolve(k credentials.Key) (string, credentials.Source) {
	if v := f.env[k]; v != "" {
		return v, credentials.SourceEnv
	}
	if v := f.stored[k]; v != "" {
		return v, credentials.SourceKeyring
	}
	return "", credentials.SourceNone
}

func (f *fakeKeyStore) Store(k credentials.Key, v string) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored[k] = v
	return nil
}

func createTestModel(t *testing.T) (*SetupModel, *fakeKeyStore) {
	t.Helper()
	logger, _ := logging.NewTestLogger()
	keys := newFakeKeyStore()
	model := NewSetupModel(helpers.NewUIContext(100, 30, nil, logger), keys)
	model.ConfigPath = filepath.Join(t.TempDir(), "sky", "config.yaml")
	return model, keys
}

func press(t *testing.T, m *SetupModel, keys ...tea.KeyMsg) (*SetupModel, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var updated tea.Model
		updated, cmd = m.Update(k)
		m = updated.(*SetupModel)
	}
	return m, cmd
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m *SetupModel, cmd tea.Cmd) *SetupModel {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	updated, _ := m.Update(cmd())
	return updated.(*SetupModel)
}

func typeText(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var (
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	esc   = tea.KeyMsg{Type: tea.KeyEscape}
)

func TestNewSetupModel(t *testing.T) {
	model, _ := createTestModel(t)

	if model.State() != SetupStateWelcome {
		t.Errorf("expected state %v, got %v", SetupStateWelcome, model.State())
	}
	if model.Cancelled {
		t.Error("expected Cancelled to be false")
	}
	if !model.textInput.Focused() {
		t.Error("expected text input to be focused")
	}
	if model.Init() == nil {
		t.Error("expected Init to return non-nil cmd")
	}
}

func TestWelcomeState(t *testing.T) {
	tests := []struct {
		name          string
		key           tea.KeyMsg
		expectedState SetupState
		shouldQuit    bool
	}{
		{"enter transitions to assets dir", enter, SetupStateAssetsDir, false},
		{"space transitions to assets dir", tea.KeyMsg{Type: tea.KeySpace}, SetupStateAssetsDir, false},
		{"escape quits", esc, SetupStateCancelled, true},
		{"q quits", typeText("q"), SetupStateCancelled, true},
		{"ctrl+c quits", tea.KeyMsg{Type: tea.KeyCtrlC}, SetupStateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, _ := createTestModel(t)
			model, cmd := press(t, model, tt.key)

			if model.State() != tt.expectedState {
				t.Errorf("expected state %v, got %v", tt.expectedState, model.State())
			}
			if !tt.shouldQuit {
				return
			}
			if !model.Cancelled {
				t.Error("expected Cancelled to be true")
			}
			if cmd == nil {
				t.Fatal("expected non-nil cmd for quit")
			}
			if _, ok := cmd().(helpers.DoneMsg); !ok {
				t.Error("expected quit to emit DoneMsg")
			}
		})
	}
}

func TestAssetsDirDefaultsToConfig(t *testing.T) {
	model, _ := createTestModel(t)
	model, _ = press(t, model, enter)

	if got := model.textInput.Value(); got != config.DefaultAssetsDir() {
		t.Errorf("expected default assets dir %q, got %q", config.DefaultAssetsDir(), got)
	}
	if model.textInput.EchoMode != textinput.EchoNormal {
		t.Error("assets dir input should not be masked")
	}
}

func TestAssetsDirValidation(t *testing.T) {
	model, _ := createTestModel(t)
	model, _ = press(t, model, enter)
	model.textInput.SetValue("relative/path")

	model, cmd := press(t, model, enter)
	model = run(t, model, cmd)

	if model.State() != SetupStateAssetsDir {
		t.Errorf("expected to stay on assets dir, got %v", model.State())
	}
	if model.layout.GetError() == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(model.View(), "must be absolute") {
		t.Error("expected error to be rendered")
	}

	// Typing clears the error.
	model, _ = press(t, model, typeText("x"))
	if model.layout.GetError() != nil {
		t.Error("expected error to clear on input")
	}
}

func TestKeySteps(t *testing.T) {
	model, _ := createTestModel(t)
	dir := t.TempDir()

	model, _ = press(t, model, enter)
	model.textInput.SetValue(dir)
	model, _ = press(t, model, enter)

	if model.State() != SetupStateMPKey {
		t.Fatalf("expected MP key state, got %v", model.State())
	}
	if model.AssetsDir != dir {
		t.Errorf("expected AssetsDir %q, got %q", dir, model.AssetsDir)
	}
	if model.textInput.EchoMode != textinput.EchoPassword {
		t.Error("key input should be masked")
	}

	// Too short.
	model, cmd := press(t, model, typeText("short"), enter)
	model = run(t, model, cmd)
	if model.State() != SetupStateMPKey || model.layout.GetError() == nil {
		t.Fatalf("expected validation error on MP key, state %v", model.State())
	}

	model.textInput.SetValue("mp-key-0123456789")
	model, _ = press(t, model, enter)
	if model.State() != SetupStateOpenAIKey {
		t.Fatalf("expected OpenAI key state, got %v", model.State())
	}

	// Empty skips.
	model, _ = press(t, model, enter)
	if model.State() != SetupStateConfirmation {
		t.Fatalf("expected confirmation, got %v", model.State())
	}
	if model.MPKey != "mp-key-0123456789" || model.OpenAIKey != "" {
		t.Errorf("unexpected keys %q %q", model.MPKey, model.OpenAIKey)
	}

	view := model.View()
	if strings.Contains(view, "mp-key-0123456789") {
		t.Error("confirmation must not show the raw key")
	}
	if !strings.Contains(view, "Composition embeddings: missing") {
		t.Error("expected asset summary in confirmation")
	}
}

func TestBackNavigation(t *testing.T) {
	model, _ := createTestModel(t)
	model.state = SetupStateOpenAIKey

	model, _ = press(t, model, esc)
	if model.State() != SetupStateMPKey {
		t.Errorf("expected MP key state, got %v", model.State())
	}
	model, _ = press(t, model, esc)
	if model.State() != SetupStateAssetsDir {
		t.Errorf("expected assets dir state, got %v", model.State())
	}
	model, _ = press(t, model, esc)
	if model.State() != SetupStateWelcome {
		t.Errorf("expected welcome state, got %v", model.State())
	}
}

func TestTypingQInInputDoesNotQuit(t *testing.T) {
	model, _ := createTestModel(t)
	model, _ = press(t, model, enter)
	model.textInput.SetValue("")

	model, _ = press(t, model, typeText("q"))
	if model.Cancelled {
		t.Error("q in a text field must not cancel")
	}
	if model.textInput.Value() != "q" {
		t.Errorf("expected input 'q', got %q", model.textInput.Value())
	}
}

func TestConfirmationCreatesConfig(t *testing.T) {
	model, keys := createTestModel(t)
	dir := filepath.Join(t.TempDir(), "assets")
	model.AssetsDir = dir
	model.MPKey = "mp-key-0123456789"
	model.state = SetupStateConfirmation

	model, cmd := press(t, model, typeText("y"))
	model = run(t, model, cmd)

	if model.State() != SetupStateComplete {
		t.Fatalf("expected complete state, got %v (err %v)", model.State(), model.layout.GetError())
	}
	if _, err := os.Stat(filepath.Join(dir, "embedding")); err != nil {
		t.Errorf("expected embedding dir to be created: %v", err)
	}

	cfg, err := config.LoadFrom(model.ConfigPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if cfg.AssetsDir != dir {
		t.Errorf("expected assets dir %q, got %q", dir, cfg.AssetsDir)
	}
	raw, _ := os.ReadFile(model.ConfigPath)
	if strings.Contains(string(raw), "mp-key-0123456789") {
		t.Error("config file must not contain API keys")
	}

	if keys.stored[credentials.MPKey] != "mp-key-0123456789" {
		t.Error("expected MP key to be stored")
	}
	if _, ok := keys.stored[credentials.OpenAIKey]; ok {
		t.Error("empty OpenAI key must not be stored")
	}

	if !strings.Contains(model.View(), "Setup Complete") {
		t.Error("expected completion view")
	}
	_, cmd = press(t, model, typeText("x"))
	if _, ok := cmd().(helpers.DoneMsg); !ok {
		t.Error("expected any key to finish")
	}
}

func TestConfirmationStoreFailure(t *testing.T) {
	model, keys := createTestModel(t)
	keys.storeErr = errors.New("keyring locked")
	model.AssetsDir = t.TempDir()
	model.OpenAIKey = "sk-0123456789abcdef"
	model.state = SetupStateConfirmation

	model, cmd := press(t, model, enter)
	model = run(t, model, cmd)

	if model.State() != SetupStateConfirmation {
		t.Errorf("expected to stay on confirmation, got %v", model.State())
	}
	if err := model.layout.GetError(); err == nil || !strings.Contains(err.Error(), "keyring locked") {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestDoneMsgQuits(t *testing.T) {
	model, _ := createTestModel(t)
	_, cmd := model.Update(helpers.DoneMsg{})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestViewsRender(t *testing.T) {
	model, keys := createTestModel(t)
	keys.env[credentials.MPKey] = "from-env-0123456789"

	states := map[SetupState]string{
		SetupStateWelcome:   "Welcome to sky",
		SetupStateAssetsDir: "Assets Directory",
		SetupStateMPKey:     "from environment",
		SetupStateOpenAIKey: "not set",
		SetupStateCancelled: "Setup cancelled",
	}
	for state, want := range states {
		model.state = state
		if view := model.View(); !strings.Contains(view, want) {
			t.Errorf("state %v: expected %q in view:\n%s", state, want, view)
		}
	}
}
