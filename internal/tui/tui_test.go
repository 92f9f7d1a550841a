package tui

import (
	"bytes"
	"errors"
	"testing"

	"sky/internal/credentials"
	"sky/internal/logging"
	"sky/internal/tui/helpers"
	"sky/internal/tui/setupmenu"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
)

type noKeys struct{}

func (noKeys) Resolve(credentials.Key) (string, credentials.Source) { return "", credentials.SourceNone }
func (noKeys) Store(credentials.Key, string) error                  { return nil }

type otherModel struct{}

func (otherModel) Init() tea.Cmd                       { return nil }
func (otherModel) Update(tea.Msg) (tea.Model, tea.Cmd) { return otherModel{}, nil }
func (otherModel) View() string                        { return "" }

func TestSetupResult(t *testing.T) {
	logger, _ := logging.NewTestLogger()
	newModel := func() *setupmenu.SetupModel {
		return setupmenu.NewSetupModel(helpers.NewUIContext(80, 24, nil, logger), noKeys{})
	}

	cancelled := newModel()
	cancelled.Cancelled = true
	if _, err := setupResult(cancelled); !errors.Is(err, ErrSetupCancelled) {
		t.Errorf("expected ErrSetupCancelled for cancelled wizard, got %v", err)
	}

	// Exiting before the completion screen counts as cancelled too.
	if _, err := setupResult(newModel()); !errors.Is(err, ErrSetupCancelled) {
		t.Errorf("expected ErrSetupCancelled for unfinished wizard, got %v", err)
	}

	if _, err := setupResult(otherModel{}); err == nil || errors.Is(err, ErrSetupCancelled) {
		t.Errorf("expected unexpected-model error, got %v", err)
	}
}

func TestGlamourStyle(t *testing.T) {
	if got := GlamourStyle(nil); got != "notty" {
		t.Errorf("expected notty for nil output, got %q", got)
	}

	var buf bytes.Buffer
	out := termenv.NewOutput(&buf, termenv.WithProfile(termenv.Ascii))
	if got := GlamourStyle(out); got != "notty" {
		t.Errorf("expected notty for ascii output, got %q", got)
	}
}
