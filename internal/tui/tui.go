// Package tui runs sky's interactive screens with Bubble Tea and Lipgloss.
//
// Two screens exist:
//
//   - setupmenu: the first-run wizard that records the assets directory and
//     stores API keys in the OS credential store
//   - chat: a Markdown-rendering chat with the synthesis agent
//
// Each screen is a standalone tea.Model that emits helpers.DoneMsg (or
// tea.Quit) when finished. The Run* helpers own the tea.Program lifecycle and
// turn the final model into a result for the command layer.
package tui

import (
	"context"
	"errors"
	"fmt"

	"sky/internal/config"
	"sky/internal/logging"
	"sky/internal/tui/chat"
	"sky/internal/tui/helpers"
	"sky/internal/tui/setupmenu"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
)

// ErrSetupCancelled is returned when the user leaves the setup wizard early.
var ErrSetupCancelled = errors.New("setup cancelled by user")

// RunSetup runs the first-run wizard full screen. The returned model holds
// what the user entered; its config has already been written to
// model.ConfigPath.
func RunSetup(cfg *config.Config, keys setupmenu.KeyStore, logger *logging.AppLogger, opts ...tea.ProgramOption) (*setupmenu.SetupModel, error) {
	ctx := helpers.NewUIContext(0, 0, cfg, logger) // Dimensions will be set by tea program
	model := setupmenu.NewSetupModel(ctx, keys)

	program := tea.NewProgram(model, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
	final, err := program.Run()
	if err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	return setupResult(final)
}

func setupResult(final tea.Model) (*setupmenu.SetupModel, error) {
	setup, ok := final.(*setupmenu.SetupModel)
	if !ok {
		return nil, fmt.Errorf("setup failed: unexpected model %T", final)
	}
	if setup.Cancelled || setup.State() != setupmenu.SetupStateComplete {
		return setup, ErrSetupCancelled
	}
	return setup, nil
}

// RunChat runs the chat screen until the user quits. Replies are rendered
// with a glamour style matching the terminal.
func RunChat(ctx context.Context, cfg *config.Config, r chat.Responder, logger *logging.AppLogger, opts ...tea.ProgramOption) error {
	uictx := helpers.NewUIContext(0, 0, cfg, logger)
	model := chat.NewChatModel(uictx, r,
		chat.WithContext(ctx),
		chat.WithGlamourStyle(GlamourStyle(termenv.DefaultOutput())),
	)

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	if _, err := tea.NewProgram(model, opts...).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat failed: %w", err)
	}
	return nil
}

// GlamourStyle picks the glamour standard style for out: "notty" when it
// has no colour support, otherwise "dark" or "light" by background.
func GlamourStyle(out *termenv.Output) string {
	if out == nil || out.Profile == termenv.Ascii {
		return "notty"
	}
	if out.HasDarkBackground() {
		return "dark"
	}
	return "light"
}
