// Package synthesis implements the recursive similarity-guided recipe search.
//
// Starting from a target formula, the search walks the composition embedding
// graph breadth first. Every visited analogue is checked for known synthesis
// recipes; analogues without recipes are expanded further until the depth or
// confidence limits stop the walk.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sky/internal/agent"
	"sky/internal/analysis"
	"sky/internal/chem"
	"sky/internal/embedding"
	"sky/internal/logging"
	"sky/internal/recipes"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxDepth         = 3
	DefaultMinConfidence    = 0.7
	DefaultInitialNeighbors = 30
	DefaultConcurrency      = 4
	DefaultRecipesPerNode   = 3
	DefaultTargetRecipes    = 10
	minExpansionNeighbors   = 3
)

// Termination reasons reported in Stats.
const (
	StopFrontierExhausted = "frontier_exhausted"
	StopMaxDepth          = "max_depth_reached"
	StopCanceled          = "canceled"
)

// Agent is the subset of agent.SynthesisAgent the search needs.
type Agent interface {
	FindSimilarMaterialsByComposition(ctx context.Context, formula string, n int) ([]embedding.Neighbor, error)
	FindRecipes(ctx context.Context, formula string, max int) (*recipes.Result, agent.RecipeSource, error)
}

// Options tunes a Search. Zero values select the defaults.
type Options struct {
	MaxDepth       int
	MinConfidence  float64
	Concurrency    int
	RecipesPerNode int
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = DefaultMinConfidence
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.RecipesPerNode <= 0 {
		o.RecipesPerNode = DefaultRecipesPerNode
	}
	return o
}

// Analogue is a similar material for which recipes were found.
type Analogue struct {
	Formula      string           `json:"formula"`
	MaterialID   string           `json:"material_id"`
	Depth        int              `json:"depth"`
	Confidence   float64          `json:"confidence"`
	Path         []string         `json:"path"`
	RecipesFound int              `json:"recipes_found"`
	Recipes      []recipes.Recipe `json:"recipes"`
}

// Stats describes how the walk went.
type Stats struct {
	NodesVisited  int    `json:"nodes_visited"`
	NodesPruned   int    `json:"nodes_pruned"`
	LookupErrors  int    `json:"lookup_errors"`
	DepthReached  int    `json:"depth_reached"`
	Termination   string `json:"termination_reason"`
	DurationMilli int64  `json:"duration_ms"`
}

// Result is the outcome of a recursive search.
type Result struct {
	TargetFormula  string              `json:"target_formula"`
	ReducedFormula string              `json:"reduced_formula"`
	RecipeSource   string              `json:"recipe_source"`
	TargetRecipes  []recipes.Recipe    `json:"target_recipes"`
	TargetFound    int                 `json:"target_recipes_found"`
	Analogues      []Analogue          `json:"analogues"`
	Parameters     *analysis.Aggregate `json:"aggregated_parameters"`
	TopMethod      string              `json:"suggested_method"`
	Stats          Stats               `json:"stats"`
}

// Searcher runs recursive searches against an Agent.
type Searcher struct {
	agent Agent
	opts  Options
}

// NewSearcher creates a Searcher.
func NewSearcher(a Agent, opts Options) *Searcher {
	return &Searcher{agent: a, opts: opts.withDefaults()}
}

type node struct {
	formula    string
	materialID string
	depth      int
	confidence float64
	path       []string
}

type visit struct {
	node     node
	result   *recipes.Result
	children []node
	err      error
}

// Search walks the neighbourhood of target. nInitial is the number of
// neighbours queried around the target; deeper levels query
// max(3, nInitial/2^depth).
func (s *Searcher) Search(ctx context.Context, target string, nInitial int) (*Result, error) {
	start := time.Now()
	defer logging.LogPerformance("recursive synthesis search", start)

	comp, err := chem.ParseFormula(target)
	if err != nil {
		return nil, err
	}
	if nInitial <= 0 {
		nInitial = DefaultInitialNeighbors
	}
	reduced := comp.ReducedFormula()

	targetRes, src, err := s.agent.FindRecipes(ctx, target, DefaultTargetRecipes)
	if err != nil {
		return nil, fmt.Errorf("recipes for %s: %w", target, err)
	}

	res := &Result{
		TargetFormula:  target,
		ReducedFormula: reduced,
		RecipeSource:   string(src),
		TargetRecipes:  targetRes.Recipes,
		TargetFound:    targetRes.RecipesFound,
		Analogues:      []Analogue{},
		Parameters:     analysis.NewAggregate(),
	}
	for _, r := range targetRes.Recipes {
		res.Parameters.Add(recipes.Paragraph(r))
	}

	root := node{formula: reduced, depth: 0, confidence: 1, path: []string{reduced}}
	frontier, err := s.expand(ctx, root, nInitial)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{reduced: true}
	stats := &res.Stats
	stats.Termination = StopFrontierExhausted

	for depth := 1; len(frontier) > 0; depth++ {
		if ctx.Err() != nil {
			stats.Termination = StopCanceled
			break
		}

		level := s.prune(frontier, visited, stats)
		frontier = nil
		if len(level) == 0 {
			break
		}
		stats.DepthReached = depth

		visits, err := s.visitLevel(ctx, level, nInitial)
		canceled := ctx.Err() != nil
		if err != nil && !canceled {
			return nil, err
		}

		for _, v := range visits {
			stats.NodesVisited++
			if v.err != nil {
				stats.LookupErrors++
				logging.Warn("Recipe lookup failed", "formula", v.node.formula, "error", v.err)
				continue
			}
			if v.result.RecipesFound > 0 {
				res.Analogues = append(res.Analogues, Analogue{
					Formula:      v.node.formula,
					MaterialID:   v.node.materialID,
					Depth:        v.node.depth,
					Confidence:   v.node.confidence,
					Path:         v.node.path,
					RecipesFound: v.result.RecipesFound,
					Recipes:      v.result.Recipes,
				})
				for _, r := range v.result.Recipes {
					res.Parameters.Add(recipes.Paragraph(r))
				}
				continue
			}
			if depth == s.opts.MaxDepth {
				stats.Termination = StopMaxDepth
			}
			frontier = append(frontier, v.children...)
		}
		if canceled {
			stats.Termination = StopCanceled
			break
		}
	}

	res.TopMethod = res.Parameters.TopMethod()
	stats.DurationMilli = time.Since(start).Milliseconds()
	logging.Debug("Recursive search finished",
		"target", reduced, "analogues", len(res.Analogues),
		"visited", stats.NodesVisited, "pruned", stats.NodesPruned, "reason", stats.Termination)
	return res, nil
}

// prune drops visited formulas and low-confidence nodes and marks the
// survivors visited. Order is preserved.
func (s *Searcher) prune(frontier []node, visited map[string]bool, stats *Stats) []node {
	level := make([]node, 0, len(frontier))
	for _, n := range frontier {
		if visited[n.formula] || n.confidence < s.opts.MinConfidence {
			stats.NodesPruned++
			continue
		}
		visited[n.formula] = true
		level = append(level, n)
	}
	return level
}

// visitLevel fetches recipes for every node of a level and expands the nodes
// that have none. Per-node failures are recorded on the visit; a missing API
// key aborts the whole search. When ctx is canceled the visits completed so
// far are returned together with ctx.Err(), in level order.
func (s *Searcher) visitLevel(ctx context.Context, level []node, nInitial int) ([]visit, error) {
	visits := make([]visit, len(level))
	done := make([]bool, len(level))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	var mu sync.Mutex
	for i, n := range level {
		g.Go(func() error {
			v := visit{node: n}
			v.result, _, v.err = s.agent.FindRecipes(gctx, n.formula, s.opts.RecipesPerNode)
			if fatal(gctx, v.err) {
				return v.err
			}
			if v.err == nil && v.result.RecipesFound == 0 && n.depth < s.opts.MaxDepth {
				children, err := s.expand(gctx, n, expansionSize(nInitial, n.depth))
				if fatal(gctx, err) {
					return err
				}
				if err != nil {
					v.err = err
				}
				v.children = children
			}
			mu.Lock()
			visits[i], done[i] = v, true
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		return visits, nil
	}
	if ctx.Err() == nil {
		return nil, err
	}
	completed := visits[:0]
	for i, v := range visits {
		if done[i] {
			completed = append(completed, v)
		}
	}
	return completed, ctx.Err()
}

func fatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, agent.ErrMissingEnv) || ctx.Err() != nil
}

// expand returns the neighbours of parent as child nodes one level deeper.
func (s *Searcher) expand(ctx context.Context, parent node, n int) ([]node, error) {
	neighbors, err := s.agent.FindSimilarMaterialsByComposition(ctx, parent.formula, n)
	if err != nil {
		return nil, fmt.Errorf("neighbours of %s: %w", parent.formula, err)
	}
	children := make([]node, 0, len(neighbors))
	for _, nb := range neighbors {
		red, err := chem.ReducedFormula(nb.Formula)
		if err != nil {
			continue
		}
		path := make([]string, len(parent.path), len(parent.path)+1)
		copy(path, parent.path)
		children = append(children, node{
			formula:    red,
			materialID: nb.MaterialID,
			depth:      parent.depth + 1,
			confidence: parent.confidence * nb.Confidence,
			path:       append(path, red),
		})
	}
	return children, nil
}

// expansionSize is the neighbour count used when expanding a node at depth.
func expansionSize(nInitial, depth int) int {
	return max(minExpansionNeighbors, nInitial>>depth)
}
