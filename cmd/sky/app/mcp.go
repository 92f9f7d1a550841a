package app

import (
	"sky/internal/config"
	"sky/internal/mcp"

	"github.com/spf13/cobra"
)

func newMCPCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the sky tools over MCP stdio",
		Long: `mcp runs a Model Context Protocol server on stdin/stdout. Every tool returns
a JSON envelope {ok, data, error, meta, provenance}. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault()
			if err != nil {
				return err
			}
			return mcp.NewServer(cfg, a.Keys, a.Logger).Start()
		},
	}
}
