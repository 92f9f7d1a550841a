// Package helpers carries state shared between sky's TUI models.
package helpers

import (
	"sky/internal/config"
	"sky/internal/logging"
)

// DoneMsg is sent by a screen when it has finished (completed or cancelled)
// and the program should exit.
type DoneMsg struct{}

// UIContext carries environment information needed for creating UI models
type UIContext struct {
	Width  int
	Height int
	Config *config.Config
	Logger *logging.AppLogger
}

// NewUIContext creates a new UI context. A nil logger falls back to the
// default application logger.
func NewUIContext(width, height int, cfg *config.Config, logger *logging.AppLogger) UIContext {
	if logger == nil {
		logger = logging.GetDefault()
	}
	return UIContext{
		Width:  width,
		Height: height,
		Config: cfg,
		Logger: logger,
	}
}

// HasValidDimensions checks if the context has valid window dimensions
func (ctx UIContext) HasValidDimensions() bool {
	return ctx.Width > 0 && ctx.Height > 0
}
