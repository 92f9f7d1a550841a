package app

import (
	"fmt"

	"sky/internal/agent"
	"sky/internal/config"
	"sky/internal/llm"
	"sky/internal/report"
	"sky/internal/synthesis"
	"sky/internal/tui"
	"sky/internal/tui/chat"

	"github.com/spf13/cobra"
)

func newChatCmd(a *App) *cobra.Command {
	var promptFile string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the synthesis agent",
		Long: `chat opens a full-screen conversation. Each prompt is answered with a
synthesis analysis grounded in similar materials and known recipes.
Type /quit to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.ensureConfigured(cmd.OutOrStdout()); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			r, err := a.chatResponder(cfg, promptFile)
			if err != nil {
				return err
			}
			return tui.RunChat(cmd.Context(), cfg, r, a.Logger)
		},
	}
	cmd.Flags().StringVar(&promptFile, "prompt", "", "Markdown prompt template with YAML front matter")
	return cmd
}

// chatResponder answers chat prompts with the report agent.
func (a *App) chatResponder(cfg *config.Config, promptFile string) (chat.Responder, error) {
	key := a.Keys.OpenAIAPIKey()
	if key == "" {
		return nil, llm.ErrNoAPIKey
	}
	completer, err := a.NewCompleter(cfg, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create language model client: %w", err)
	}

	ag := agent.New(agent.OptionsFromConfig(cfg), a.Keys)
	var opts []report.Option
	if promptFile != "" {
		p, err := report.LoadPromptFile(promptFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, report.WithPrompt(p))
	}
	if ag.HasMPKey() && ag.CompositionAsset().Exists() {
		opts = append(opts, report.WithRecursiveSearch(synthesis.NewSearcher(ag, synthesis.Options{})))
	}
	d := report.NewDiscoverer(ag, completer, opts...)
	return chat.ResponderFunc(d.Discover), nil
}
