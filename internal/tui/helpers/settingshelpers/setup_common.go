// Package settingshelpers holds the validation and display helpers used by
// the sky setup wizard.
package settingshelpers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"sky/internal/assets"
	"sky/internal/credentials"
	"sky/pkg/fileops"
)

// FormatKeyDisplay masks an API key for display, keeping the first and last
// four characters of keys longer than eight.
//
//   - "sk-proj-abcdefgh1234" -> "sk-p••••••••••••1234"
//   - "short" -> "•••••"
func FormatKeyDisplay(key string) string {
	key = strings.TrimSpace(key)

	if len(key) <= 8 {
		return strings.Repeat("•", len(key))
	}

	first := key[:4]
	last := key[len(key)-4:]
	return first + strings.Repeat("•", len(key)-8) + last
}

// KeyStatus describes how a key will be resolved once setup finishes.
func KeyStatus(entered string, src credentials.Source) string {
	switch {
	case strings.TrimSpace(entered) != "":
		return FormatKeyDisplay(entered) + " (saved to credential store)"
	case src == credentials.SourceEnv:
		return "from environment"
	case src == credentials.SourceKeyring:
		return "already in credential store"
	default:
		return "not set"
	}
}

// ValidateAPIKey accepts an empty key (the step is skipped) or one that
// passes credentials.ValidateKeyFormat.
func ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return credentials.ValidateKeyFormat(key)
}

// ResetTextInputForState clears the shared text input and configures it for
// the next wizard step.
func ResetTextInputForState(textInput *textinput.Model, value, placeholder string, echoMode textinput.EchoMode) tea.Cmd {
	textInput.Reset()
	textInput.SetValue(value)
	textInput.Placeholder = placeholder
	textInput.EchoMode = echoMode
	textInput.Focus()
	return textinput.Blink
}

// ValidateAndExpandAssetsDir validates an assets directory and returns its
// expanded absolute form.
func ValidateAndExpandAssetsDir(path string) (string, error) {
	input := strings.TrimSpace(path)
	if err := fileops.ValidateDataDir(input); err != nil {
		return "", err
	}
	return fileops.ExpandPath(input), nil
}

// AssetSummary lists which data files were found under assetsDir.
func AssetSummary(assetsDir string) []string {
	embeddingDir := filepath.Join(assetsDir, "embedding")
	items := []struct {
		name string
		spec assets.Spec
	}{
		{"Composition embeddings", assets.CompositionEmbedding(embeddingDir)},
		{"Structure embeddings", assets.StructureEmbedding(embeddingDir)},
		{"Synthesis recipes", assets.RecipesDataset(assetsDir)},
	}

	lines := make([]string, 0, len(items))
	for _, it := range items {
		mark := "missing"
		if path, err := it.spec.Find(); err == nil {
			mark = "found (" + filepath.Base(path) + ")"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", it.name, mark))
	}
	return lines
}
