// Package agent provides SynthesisAgent, the facade over similarity search,
// the local recipe dataset and the Materials Project API.
//
// Every dependency is created on first use: an agent can be built without
// assets or API keys and only fails when an operation actually needs them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"sky/internal/assets"
	"sky/internal/chem"
	"sky/internal/config"
	"sky/internal/embedding"
	"sky/internal/mp"
	"sky/internal/recipes"
)

// ErrMissingEnv is returned when an operation needs the Materials Project API
// and no key is configured.
var ErrMissingEnv = errors.New("MP_API_KEY environment variable not set.")

// DefaultNeighbors is the neighbour count used when callers pass n <= 0.
const DefaultNeighbors = 10

// KeySource resolves the Materials Project API key.
type KeySource interface {
	MPAPIKey() string
}

// StaticKey is a KeySource for a fixed key.
type StaticKey string

func (k StaticKey) MPAPIKey() string { return string(k) }

// Options configures a SynthesisAgent.
type Options struct {
	// AssetsDir holds embedding/ and the recipe dataset.
	AssetsDir string
	// MaxNeighbors caps similarity results (default 100).
	MaxNeighbors int
	// Embedder serves "remote:<model>" embedding tables.
	Embedder embedding.Embedder
	MP       mp.Options
}

// SynthesisAgent answers material similarity, recipe and property queries.
// It is safe for concurrent use.
type SynthesisAgent struct {
	opts Options
	keys KeySource

	mu        sync.Mutex
	comp      *embedding.SearchAPI
	structure *embedding.SearchAPI
	client    *mp.Client
	local     *recipes.Dataset
}

// New creates an agent. Nothing is loaded until first use.
func New(opts Options, keys KeySource) *SynthesisAgent {
	if opts.MaxNeighbors <= 0 {
		opts.MaxNeighbors = embedding.DefaultMaxNeighbors
	}
	if keys == nil {
		keys = StaticKey("")
	}
	return &SynthesisAgent{opts: opts, keys: keys}
}

// EmbeddingDir is the directory searched for embedding tables.
func (a *SynthesisAgent) EmbeddingDir() string {
	return filepath.Join(a.opts.AssetsDir, "embedding")
}

// CompositionAsset describes the composition embedding lookup.
func (a *SynthesisAgent) CompositionAsset() assets.Spec {
	return assets.CompositionEmbedding(a.EmbeddingDir())
}

// StructureAsset describes the structure embedding lookup.
func (a *SynthesisAgent) StructureAsset() assets.Spec {
	return assets.StructureEmbedding(a.EmbeddingDir())
}

// RecipesAsset describes the local recipe dataset lookup.
func (a *SynthesisAgent) RecipesAsset() assets.Spec {
	return assets.RecipesDataset(a.opts.AssetsDir)
}

func (a *SynthesisAgent) searchAPI(slot **embedding.SearchAPI, spec assets.Spec) (*embedding.SearchAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if *slot != nil {
		return *slot, nil
	}
	path, err := spec.Find()
	if err != nil {
		return nil, err
	}
	*slot = embedding.NewSearchAPI(path,
		embedding.WithMaxNeighbors(a.opts.MaxNeighbors),
		embedding.WithEmbedder(a.opts.Embedder),
	)
	return *slot, nil
}

func (a *SynthesisAgent) mpClient() (*mp.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	key := a.keys.MPAPIKey()
	if key == "" {
		return nil, ErrMissingEnv
	}
	c, err := mp.NewClient(key, a.opts.MP)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// HasMPKey reports whether a Materials Project key is configured.
func (a *SynthesisAgent) HasMPKey() bool {
	return a.keys.MPAPIKey() != ""
}

// FindSimilarMaterialsByComposition returns the materials whose composition
// embedding is closest to formula.
func (a *SynthesisAgent) FindSimilarMaterialsByComposition(ctx context.Context, formula string, n int) ([]embedding.Neighbor, error) {
	comp, err := chem.ParseFormula(formula)
	if err != nil {
		return nil, err
	}
	api, err := a.searchAPI(&a.comp, a.CompositionAsset())
	if err != nil {
		return nil, err
	}
	return api.Query(ctx, embedding.Input{Formula: comp.Formula()}, defaultN(n))
}

// FindSimilarMaterialsByStructure returns the materials whose structure
// embedding is closest to st. cif is the source text when known; it is only
// used by remote embedders.
func (a *SynthesisAgent) FindSimilarMaterialsByStructure(ctx context.Context, st *chem.Structure, cif string, n int) ([]embedding.Neighbor, error) {
	if st == nil || len(st.Sites) == 0 {
		return nil, fmt.Errorf("structure has no sites")
	}
	api, err := a.searchAPI(&a.structure, a.StructureAsset())
	if err != nil {
		return nil, err
	}
	in := embedding.Input{
		Formula:   st.Composition().ReducedFormula(),
		Structure: st,
		CIF:       cif,
	}
	return api.Query(ctx, in, defaultN(n))
}

func defaultN(n int) int {
	if n <= 0 {
		return DefaultNeighbors
	}
	return n
}

// GetSynthesisRecipesByFormula fetches text-mined recipes for formula from
// the Materials Project.
func (a *SynthesisAgent) GetSynthesisRecipesByFormula(ctx context.Context, formula string) ([]recipes.Recipe, error) {
	c, err := a.mpClient()
	if err != nil {
		return nil, err
	}
	return c.SearchSynthesis(ctx, formula)
}

// GetSummaryDocByMaterialID fetches the summary document of a material.
func (a *SynthesisAgent) GetSummaryDocByMaterialID(ctx context.Context, id string) ([]map[string]any, error) {
	c, err := a.mpClient()
	if err != nil {
		return nil, err
	}
	return c.SearchSummary(ctx, []string{id}, nil)
}

// GetStructureByMaterialID fetches and decodes the structure of a material.
func (a *SynthesisAgent) GetStructureByMaterialID(ctx context.Context, id string) (*chem.Structure, error) {
	c, err := a.mpClient()
	if err != nil {
		return nil, err
	}
	doc, err := c.GetStructure(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := chem.StructureFromMap(doc)
	if err != nil {
		return nil, fmt.Errorf("decode structure of %s: %w", id, err)
	}
	return st, nil
}

// Properties is the projection of a summary document returned to callers.
// Missing values are nil.
type Properties struct {
	MaterialID             string   `json:"material_id"`
	FormulaPretty          string   `json:"formula_pretty"`
	BandGap                *float64 `json:"band_gap"`
	Density                *float64 `json:"density"`
	FormationEnergyPerAtom *float64 `json:"formation_energy_per_atom"`
	EnergyAboveHull        *float64 `json:"energy_above_hull"`
	Volume                 *float64 `json:"volume"`
	MPURL                  string   `json:"mp_url"`
}

// GetMaterialProperties fetches summary properties for ids, sorted by
// material id.
func (a *SynthesisAgent) GetMaterialProperties(ctx context.Context, ids []string) ([]Properties, error) {
	c, err := a.mpClient()
	if err != nil {
		return nil, err
	}
	docs, err := c.SearchSummary(ctx, ids, mp.SummaryFields)
	if err != nil {
		return nil, err
	}
	out := make([]Properties, 0, len(docs))
	for _, d := range docs {
		id, _ := d["material_id"].(string)
		formula, _ := d["formula_pretty"].(string)
		out = append(out, Properties{
			MaterialID:             id,
			FormulaPretty:          formula,
			BandGap:                floatField(d, "band_gap"),
			Density:                floatField(d, "density"),
			FormationEnergyPerAtom: floatField(d, "formation_energy_per_atom"),
			EnergyAboveHull:        floatField(d, "energy_above_hull"),
			Volume:                 floatField(d, "volume"),
			MPURL:                  mp.MaterialURL(id),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialID < out[j].MaterialID })
	return out, nil
}

func floatField(doc map[string]any, key string) *float64 {
	if v, ok := doc[key].(float64); ok {
		return &v
	}
	return nil
}

// RecipeSource says where recipes came from.
type RecipeSource string

const (
	SourceLocal RecipeSource = "local"
	SourceMP    RecipeSource = "mp"
)

// LocalRecipes returns the local recipe dataset, or an *assets.NotFoundError
// if none is installed.
func (a *SynthesisAgent) LocalRecipes() (*recipes.Dataset, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.local != nil {
		return a.local, nil
	}
	path, err := a.RecipesAsset().Find()
	if err != nil {
		return nil, err
	}
	a.local = recipes.Open(path)
	return a.local, nil
}

// FindRecipes looks formula up in the local dataset when one is installed and
// falls back to the Materials Project otherwise. Results are sorted by
// recipes.SortKeys and truncated to max; RecipesFound counts all matches.
func (a *SynthesisAgent) FindRecipes(ctx context.Context, formula string, max int) (*recipes.Result, RecipeSource, error) {
	if _, err := chem.ParseFormula(formula); err != nil {
		return nil, "", err
	}

	if ds, err := a.LocalRecipes(); err == nil {
		res, err := ds.Match(formula, max)
		return res, SourceLocal, err
	}

	docs, err := a.GetSynthesisRecipesByFormula(ctx, formula)
	if err != nil {
		return nil, SourceMP, err
	}
	recipes.Sort(docs)
	found := len(docs)
	if max > 0 && len(docs) > max {
		docs = docs[:max]
	}
	if docs == nil {
		docs = []recipes.Recipe{}
	}
	return &recipes.Result{TargetFormula: formula, RecipesFound: found, Recipes: docs}, SourceMP, nil
}

// OptionsFromConfig maps the user configuration onto agent options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		AssetsDir: cfg.ResolvedAssetsDir(),
		MP: mp.Options{
			Endpoint:          cfg.MP.Endpoint,
			Timeout:           cfg.MP.Timeout,
			MaxRetries:        cfg.MP.MaxRetries,
			RequestsPerSecond: cfg.MP.RequestsPerSecond,
		},
	}
	if cfg.Embedding.Endpoint != "" {
		opts.Embedder = embedding.NewHTTPEmbedder(cfg.Embedding.Endpoint, cfg.Embedding.Timeout)
	}
	return opts
}
