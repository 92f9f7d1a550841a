package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sky/internal/agent"
	"sky/internal/chem"
	"sky/internal/config"
	"sky/internal/embedding"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

const (
	modeComposition = "composition"
	modeStructure   = "structure"
)

type searchRow struct {
	Rank       int     `json:"rank"`
	MaterialID string  `json:"material_id"`
	Formula    string  `json:"formula"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

type searchOutput struct {
	Query     string      `json:"query"`
	Mode      string      `json:"mode"`
	Neighbors []searchRow `json:"neighbors"`
}

func newSearchCmd(a *App) *cobra.Command {
	var (
		top     int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "search <formula|cif-file>",
		Short: "Find materials similar to a formula or CIF structure",
		Long: `search lists the materials closest to the query in embedding space.

An argument naming an existing .cif file runs a structure search; anything else
is parsed as a chemical formula, e.g. "Fe2O3" or "LiFePO4".`,
		Example: `  sky search Fe2O3
  sky search --top 5 LiFePO4
  sky search ./NaCl.cif --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if top < 1 {
				return fmt.Errorf("--top must be at least 1, got %d", top)
			}
			cfg, err := config.LoadOrDefault()
			if err != nil {
				return err
			}
			res, err := a.search(cmd, cfg, args[0], top)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return renderSearchTable(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", agent.DefaultNeighbors, "number of neighbours to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON instead of a table")
	return cmd
}

func isCIFFile(arg string) bool {
	if !strings.EqualFold(filepath.Ext(arg), ".cif") {
		return false
	}
	info, err := os.Stat(arg)
	return err == nil && info.Mode().IsRegular()
}

func (a *App) search(cmd *cobra.Command, cfg *config.Config, query string, top int) (*searchOutput, error) {
	ag := agent.New(agent.OptionsFromConfig(cfg), a.Keys)
	ctx := cmd.Context()

	var (
		neighbors []embedding.Neighbor
		mode      = modeComposition
		err       error
	)
	if isCIFFile(query) {
		mode = modeStructure
		raw, rerr := os.ReadFile(query)
		if rerr != nil {
			return nil, fmt.Errorf("failed to read %s: %w", query, rerr)
		}
		st, perr := chem.ParseCIF(string(raw))
		if perr != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", query, perr)
		}
		neighbors, err = ag.FindSimilarMaterialsByStructure(ctx, st, string(raw), top)
	} else {
		neighbors, err = ag.FindSimilarMaterialsByComposition(ctx, query, top)
	}
	if err != nil {
		return nil, fmt.Errorf("%s search failed: %w", mode, err)
	}
	a.Logger.Debug("Search finished", "mode", mode, "query", query, "results", len(neighbors))

	out := &searchOutput{Query: query, Mode: mode, Neighbors: make([]searchRow, 0, len(neighbors))}
	for i, n := range neighbors {
		out.Neighbors = append(out.Neighbors, searchRow{
			Rank:       i + 1,
			MaterialID: n.MaterialID,
			Formula:    n.Formula,
			Distance:   n.Distance,
			Similarity: n.Confidence,
		})
	}
	return out, nil
}

func renderSearchTable(w io.Writer, res *searchOutput) error {
	if len(res.Neighbors) == 0 {
		fmt.Fprintf(w, "No similar materials found for %s.\n", res.Query)
		return nil
	}

	headers := []string{"Rank", "Material ID", "Formula", "Distance", "Similarity"}
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader(headers),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(tw.MakeAlign(len(headers), tw.AlignLeft)),
	)

	for _, r := range res.Neighbors {
		if err := table.Append([]string{
			strconv.Itoa(r.Rank),
			r.MaterialID,
			r.Formula,
			strconv.FormatFloat(r.Distance, 'f', 4, 64),
			strconv.FormatFloat(r.Similarity, 'f', 4, 64),
		}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}

	fmt.Fprintf(w, "Materials similar to %s (%s search)\n", res.Query, res.Mode)
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}
