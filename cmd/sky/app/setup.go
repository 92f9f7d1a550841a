package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"sky/internal/config"
	"sky/internal/credentials"
	"sky/internal/tui"
	"sky/internal/tui/helpers/settingshelpers"
	"sky/pkg/fileops"

	"github.com/spf13/cobra"
)

var apiKeys = []struct {
	label string
	key   credentials.Key
}{
	{"Materials Project API key", credentials.MPKey},
	{"OpenAI API key", credentials.OpenAIKey},
}

func newSetupCmd(a *App) *cobra.Command {
	var nonInteractive, forgetKeys bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Choose the assets directory and store API keys",
		Long: `setup writes the sky config file and stores the Materials Project and OpenAI
API keys in the OS credential store.

With --non-interactive nothing is asked: the assets directory comes from
SKY_ASSETS_DIR (or the default) and keys are only read from the environment.
--forget-keys removes both keys from the credential store and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if forgetKeys {
				return a.forgetKeys(cmd.OutOrStdout())
			}
			if nonInteractive {
				return a.setupNonInteractive(cmd.OutOrStdout())
			}
			return a.setupInteractive(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "configure from environment variables without prompting")
	cmd.Flags().BoolVar(&forgetKeys, "forget-keys", false, "remove stored API keys from the credential store")
	cmd.MarkFlagsMutuallyExclusive("non-interactive", "forget-keys")
	return cmd
}

// baseConfig is the existing config file, or the defaults on first run.
func baseConfig() (*config.Config, error) {
	path := config.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		return config.LoadFrom(path)
	}
	cfg := config.DefaultConfig()
	return &cfg, nil
}

func (a *App) setupInteractive(out io.Writer) error {
	cfg, err := baseConfig()
	if err != nil {
		return err
	}
	result, err := tui.RunSetup(cfg, a.Keys, a.Logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Configuration saved to %s\n", result.ConfigPath)
	return nil
}

func (a *App) setupNonInteractive(out io.Writer) error {
	cfg, err := baseConfig()
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("SKY_ASSETS_DIR")); v != "" {
		cfg.AssetsDir = v
	}
	dir, err := settingshelpers.ValidateAndExpandAssetsDir(cfg.AssetsDir)
	if err != nil {
		return fmt.Errorf("invalid assets directory %q: %w", cfg.AssetsDir, err)
	}
	cfg.AssetsDir = dir

	if err := fileops.EnsureDirectoryExists(cfg.EmbeddingDir()); err != nil {
		return fmt.Errorf("failed to create assets directory: %w", err)
	}
	path := config.ConfigPath()
	if err := cfg.SaveTo(path); err != nil {
		return err
	}
	a.Logger.Info("Configuration saved", "path", path, "assets_dir", dir)

	fmt.Fprintf(out, "Config file: %s\n", path)
	fmt.Fprintf(out, "Assets directory: %s\n", dir)
	for _, k := range apiKeys {
		_, src := a.Keys.Resolve(k.key)
		fmt.Fprintf(out, "%s: %s\n", k.label, settingshelpers.KeyStatus("", src))
	}
	fmt.Fprintf(out, "Credential store: %s\n", storeStatusLine(a.Keys.StoreStatus()))
	for _, line := range settingshelpers.AssetSummary(dir) {
		fmt.Fprintln(out, line)
	}
	return nil
}

func storeStatusLine(status map[string]any) string {
	if ok, _ := status["available"].(bool); ok {
		return "available"
	}
	if msg, _ := status["error"].(string); msg != "" {
		return "unavailable (" + msg + ")"
	}
	return "unavailable"
}

func (a *App) forgetKeys(out io.Writer) error {
	for _, k := range apiKeys {
		if err := a.Keys.Delete(k.key); err != nil {
			return err
		}
		a.Logger.Info("Removed stored key", "key", k.key)
		fmt.Fprintf(out, "%s: removed from credential store\n", k.label)
		if _, src := a.Keys.Resolve(k.key); src == credentials.SourceEnv {
			fmt.Fprintf(out, "%s: still set in the environment\n", k.label)
		}
	}
	return nil
}

// ensureConfigured runs the setup wizard when no config file exists yet.
func (a *App) ensureConfigured(out io.Writer) error {
	if !config.IsFirstRun() {
		return nil
	}
	a.Logger.Info("No configuration found, starting setup")
	if err := a.setupInteractive(out); err != nil {
		if errors.Is(err, tui.ErrSetupCancelled) {
			return config.ErrNotConfigured
		}
		return err
	}
	return nil
}
