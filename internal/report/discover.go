// Package report generates synthesis reports: it gathers recipes and similar
// materials for a query, asks a language model for a write-up and renders
// the answer as a standalone HTML page.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sky/internal/agent"
	"sky/internal/analysis"
	"sky/internal/assets"
	"sky/internal/chem"
	"sky/internal/embedding"
	"sky/internal/llm"
	"sky/internal/logging"
	"sky/internal/recipes"
	"sky/internal/synthesis"
)

const (
	contextRecipes   = 5
	contextNeighbors = 5
	recursiveSeeds   = 10
)

// Source supplies the material context of a report.
type Source interface {
	FindSimilarMaterialsByComposition(ctx context.Context, formula string, n int) ([]embedding.Neighbor, error)
	FindRecipes(ctx context.Context, formula string, max int) (*recipes.Result, agent.RecipeSource, error)
}

// Discoverer writes synthesis analyses.
type Discoverer struct {
	src       Source
	llm       llm.Completer
	prompt    *Prompt
	recursive *synthesis.Searcher
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithPrompt replaces the built-in prompt.
func WithPrompt(p *Prompt) Option {
	return func(d *Discoverer) {
		if p != nil {
			d.prompt = p
		}
	}
}

// WithRecursiveSearch enables a recursive analogue search when the target
// itself has no known recipes.
func WithRecursiveSearch(s *synthesis.Searcher) Option {
	return func(d *Discoverer) { d.recursive = s }
}

// NewDiscoverer creates a Discoverer. src may be nil, in which case the model
// only sees the query.
func NewDiscoverer(src Source, c llm.Completer, opts ...Option) *Discoverer {
	d := &Discoverer{src: src, llm: c, prompt: DefaultPrompt()}
	for _, o := range opts {
		o(d)
	}
	return d
}

type recipeView struct {
	Reaction  string
	DOI       string
	Paragraph string
}

type promptData struct {
	Query        string
	Formula      string
	Reduced      string
	RecipeSource string
	RecipesFound int
	Recipes      []recipeView
	Analogues    []synthesis.Analogue
	Similar      []embedding.Neighbor
	Parameters   *analysis.Aggregate
	Notes        []string
}

// Discover answers query with a Markdown synthesis analysis.
func (d *Discoverer) Discover(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("query is required")
	}

	data := d.gather(ctx, query)
	user, err := d.prompt.Render(data)
	if err != nil {
		return "", err
	}

	logging.Debug("Requesting synthesis analysis",
		"formula", data.Formula, "recipes", len(data.Recipes),
		"analogues", len(data.Analogues), "prompt_chars", len(user))

	return d.llm.Complete(ctx, llm.Request{
		Model:       d.prompt.Model,
		System:      d.prompt.System,
		User:        user,
		Temperature: d.prompt.Temperature,
	})
}

// gather collects whatever context is available. Missing assets or keys are
// noted for the model rather than failing the report.
func (d *Discoverer) gather(ctx context.Context, query string) promptData {
	data := promptData{Query: query}
	formula, ok := chem.FindFormula(query)
	if !ok || d.src == nil {
		return data
	}
	data.Formula = formula
	if red, err := chem.ReducedFormula(formula); err == nil {
		data.Reduced = red
	}

	agg := analysis.NewAggregate()
	res, src, err := d.src.FindRecipes(ctx, formula, contextRecipes)
	if err != nil {
		data.Notes = append(data.Notes, "Recipe lookup unavailable: "+describe(err))
	} else {
		data.RecipeSource = string(src)
		data.RecipesFound = res.RecipesFound
		for _, r := range res.Recipes {
			reaction, _ := r["reaction_string"].(string)
			doi, _ := r["doi"].(string)
			data.Recipes = append(data.Recipes, recipeView{Reaction: reaction, DOI: doi, Paragraph: recipes.Paragraph(r)})
			agg.Add(recipes.Paragraph(r))
		}
	}

	similar, err := d.src.FindSimilarMaterialsByComposition(ctx, formula, contextNeighbors)
	if err != nil {
		data.Notes = append(data.Notes, "Similarity search unavailable: "+describe(err))
	} else {
		data.Similar = similar
	}

	if d.recursive != nil && err == nil && len(data.Recipes) == 0 {
		deep, err := d.recursive.Search(ctx, formula, recursiveSeeds)
		if err != nil {
			data.Notes = append(data.Notes, "Analogue search failed: "+describe(err))
		} else {
			data.Analogues = deep.Analogues
			agg = deep.Parameters
		}
	}

	if agg.Texts > 0 {
		data.Parameters = agg
	}
	if len(data.Recipes) == 0 && len(data.Analogues) == 0 {
		data.Notes = append(data.Notes, "No literature recipes were found; rely on general chemical knowledge and say so.")
	}
	return data
}

func describe(err error) string {
	switch {
	case errors.Is(err, agent.ErrMissingEnv):
		return "no Materials Project API key configured"
	case errors.Is(err, assets.ErrNotFound):
		return "embedding asset not installed"
	default:
		return err.Error()
	}
}

// Formula picks the material a report is about: the first formula in the
// analysis heading, then the first in the query, then the query itself.
func Formula(analysisText, query string) string {
	for _, line := range strings.Split(analysisText, "\n") {
		if strings.HasPrefix(line, "# ") {
			if f, ok := chem.FindFormula(line); ok {
				return f
			}
			break
		}
	}
	if f, ok := chem.FindFormula(query); ok {
		return f
	}
	return strings.TrimSpace(query)
}

// Generate is Discover followed by optional HTML rendering. The returned
// path is empty when html is false.
func (d *Discoverer) Generate(ctx context.Context, query string, html bool, w *Writer) (analysisText, path string, err error) {
	analysisText, err = d.Discover(ctx, query)
	if err != nil {
		return "", "", err
	}
	if !html {
		return analysisText, "", nil
	}
	page, err := RenderHTML(analysisText, Formula(analysisText, query))
	if err != nil {
		return analysisText, "", err
	}
	path, err = w.Write(query, page)
	if err != nil {
		return analysisText, "", fmt.Errorf("write report: %w", err)
	}
	return analysisText, path, nil
}
