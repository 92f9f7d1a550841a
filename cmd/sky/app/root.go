// Package app wires sky's cobra commands.
package app

import (
	"errors"
	"fmt"
	"io/fs"

	"sky/internal/config"
	"sky/internal/credentials"
	"sky/internal/llm"
	"sky/internal/logging"
	"sky/internal/tui/setupmenu"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// KeyStore resolves, stores and removes API keys.
type KeyStore interface {
	setupmenu.KeyStore
	MPAPIKey() string
	OpenAIAPIKey() string
	Delete(k credentials.Key) error
	StoreStatus() map[string]any
}

// App holds what the commands share.
type App struct {
	Logger *logging.AppLogger
	Keys   KeyStore
	// NewCompleter builds the language model client used by chat.
	NewCompleter func(cfg *config.Config, apiKey string) (llm.Completer, error)
	// DotEnv is loaded before any command runs. Empty disables it.
	DotEnv string
}

// New returns an App backed by the OS keyring and the default logger.
func New() *App {
	return &App{
		Logger: logging.NewAppLogger(),
		Keys:   credentials.NewManager(),
		NewCompleter: func(cfg *config.Config, apiKey string) (llm.Completer, error) {
			return llm.New(apiKey, llm.Options{BaseURL: cfg.OpenAI.BaseURL, Model: cfg.OpenAI.Model})
		},
		DotEnv: ".env",
	}
}

// NewRootCmd builds the sky command tree.
func NewRootCmd(a *App) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "sky",
		Short: "Materials synthesis agent",
		Long: `sky finds materials similar to a target composition or crystal structure,
looks up known synthesis recipes and drafts synthesis plans with a language model.

Run "sky setup" once to choose the assets directory and store API keys, then
"sky search Fe2O3", "sky chat" or "sky mcp" to serve the tools to an MCP client.`,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if verbose {
				a.Logger = logging.NewWriterLogger(cmd.ErrOrStderr(), log.DebugLevel)
			}
			return loadDotEnv(a.DotEnv)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newSetupCmd(a),
		newSearchCmd(a),
		newChatCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI with the default App.
func Execute() error {
	return NewRootCmd(New()).Execute()
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	logging.Debug("Loaded environment file", "path", path)
	return nil
}
