package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"sky/internal/agent"
	"sky/internal/analysis"
	"sky/internal/assets"
	"sky/internal/chem"
	"sky/internal/embedding"
	"sky/internal/mp"
	"sky/internal/report"
	"sky/internal/synthesis"
	"sky/internal/version"
	"sky/pkg/fileops"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultTopN       = 10
	defaultMaxRecipes = 5
)

var reportWarnings = []string{"networked", "nondeterministic", "may incur cost"}

func (s *Server) toolDefs() []tool {
	topN := mcp.WithNumber("top_n", mcp.Description("Number of neighbours to return (default 10)."))
	return []tool{
		{mcp.NewTool("capabilities",
			mcp.WithDescription("Report available assets, env vars, and versions."),
		), s.capabilities},
		{mcp.NewTool("search_similar_by_composition",
			mcp.WithDescription("Find similar materials by composition."),
			mcp.WithString("formula", mcp.Required(), mcp.Description("Chemical formula, e.g. Fe2O3.")),
			topN,
		), s.searchByComposition},
		{mcp.NewTool("search_similar_by_structure_cif",
			mcp.WithDescription("Find similar materials by CIF text (canonical)."),
			mcp.WithString("cif", mcp.Required(), mcp.Description("CIF file contents.")),
			topN,
		), s.searchByStructureCIF},
		{mcp.NewTool("search_similar_by_structure_path",
			mcp.WithDescription("Find similar materials by CIF file path (local-only)."),
			mcp.WithString("cif_path", mcp.Required(), mcp.Description("Path to a CIF file under an allowed root.")),
			topN,
		), s.searchByStructurePath},
		{mcp.NewTool("read_cif",
			mcp.WithDescription("Read CIF text and return structure metadata."),
			mcp.WithString("cif", mcp.Required(), mcp.Description("CIF file contents.")),
		), s.readCIF},
		{mcp.NewTool("read_cif_path",
			mcp.WithDescription("Read CIF file path and return structure metadata (local-only)."),
			mcp.WithString("cif_path", mcp.Required(), mcp.Description("Path to a CIF file under an allowed root.")),
		), s.readCIFPath},
		{mcp.NewTool("get_material_properties",
			mcp.WithDescription("Fetch Materials Project properties."),
			mcp.WithArray("material_ids", mcp.Required(),
				mcp.Description("Materials Project ids, e.g. [\"mp-19770\"]."),
				mcp.Items(map[string]any{"type": "string"})),
		), s.materialProperties},
		{mcp.NewTool("get_synthesis_recipes",
			mcp.WithDescription("Retrieve synthesis recipes for a formula."),
			mcp.WithString("formula", mcp.Required(), mcp.Description("Target formula.")),
			mcp.WithNumber("max_recipes", mcp.Description("Maximum recipes to return (default 5).")),
		), s.synthesisRecipes},
		{mcp.NewTool("analyze_synthesis_parameters",
			mcp.WithDescription("Extract synthesis parameters from text."),
			mcp.WithString("text", mcp.Required(), mcp.Description("Synthesis paragraph.")),
		), s.analyzeParameters},
		{mcp.NewTool("recursive_synthesis_search",
			mcp.WithDescription("Recursive synthesis search using similarity neighbors."),
			mcp.WithString("formula", mcp.Required(), mcp.Description("Target formula.")),
			mcp.WithNumber("max_depth", mcp.Description("Maximum expansion depth (default 3).")),
			mcp.WithNumber("min_confidence", mcp.Description("Minimum path confidence in (0, 1] (default 0.7).")),
			mcp.WithNumber("n_initial_neighbors", mcp.Description("Neighbours queried around the target (default 30).")),
		), s.recursiveSearch},
		{mcp.NewTool("discover_synthesis_report",
			mcp.WithDescription("Expensive, networked, nondeterministic synthesis report."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Material or question to report on.")),
			mcp.WithBoolean("html", mcp.Description("Also write an HTML report under sky_reports/.")),
		), s.discoverReport},
		{mcp.NewTool("self_check",
			mcp.WithDescription("Run deterministic checks for MCP readiness."),
		), s.selfCheck},
	}
}

func (s *Server) assetStatus() map[string]any {
	return map[string]any{
		"composition_embedding": s.agent.CompositionAsset().Exists(),
		"structure_embedding":   s.agent.StructureAsset().Exists(),
		"recipes_dataset":       s.agent.RecipesAsset().Exists(),
	}
}

func (s *Server) envStatus() map[string]any {
	return map[string]any{
		"mp_api_key":     s.keys.MPAPIKey() != "",
		"openai_api_key": s.keys.OpenAIAPIKey() != "",
	}
}

func (s *Server) capabilities(_ context.Context, _ mcp.CallToolRequest) Envelope {
	status := s.assetStatus()
	status["files"] = map[string]any{
		"composition_embeddings": s.agent.CompositionAsset().Files(),
		"structure_embeddings":   s.agent.StructureAsset().Files(),
		"recipes_datasets":       s.agent.RecipesAsset().Files(),
	}
	info := version.Get()
	return OK(map[string]any{
		"assets": status,
		"env":    s.envStatus(),
		"versions": map[string]any{
			"sky_version":    info.Version,
			"go_version":     info.GoVersion,
			"mcp_go_version": version.Dependency("github.com/mark3labs/mcp-go"),
		},
	}, s.meta("capabilities"), FromIDs(SourceLocal, nil))
}

func (s *Server) selfCheck(_ context.Context, _ mcp.CallToolRequest) Envelope {
	writable := false
	if cwd, err := s.getwd(); err == nil {
		writable = report.DirWritable(s.cfg.ResolvedReportsDir(cwd))
	}
	return OK(map[string]any{
		"tools":               s.ToolNames(),
		"assets":              s.assetStatus(),
		"report_dir_writable": writable,
		"env":                 s.envStatus(),
	}, s.meta("self_check"), FromIDs(SourceLocal, nil))
}

// parseFormula validates a required formula argument.
func (s *Server) parseFormula(tool, formula string) (chem.Composition, *Envelope) {
	if strings.TrimSpace(formula) == "" {
		env := Err(ErrInvalidInput, "Formula is required.", nil, s.meta(tool))
		return nil, &env
	}
	comp, err := chem.ParseFormula(formula)
	if err != nil {
		env := Err(ErrInvalidInput, "Invalid formula.", err.Error(), s.meta(tool))
		return nil, &env
	}
	return comp, nil
}

func (s *Server) topN(tool string, req mcp.CallToolRequest) (int, *Envelope) {
	n := req.GetInt("top_n", defaultTopN)
	if n < 1 || n > maxTopN {
		env := Err(ErrInvalidInput, fmt.Sprintf("top_n must be between 1 and %d.", maxTopN), n, s.meta(tool))
		return 0, &env
	}
	return n, nil
}

func (s *Server) missingAsset(tool string, spec assets.Spec) Envelope {
	nf := &assets.NotFoundError{Spec: spec}
	return Err(ErrFileNotFound, "Required asset not found.", nf.Details(), s.meta(tool))
}

func (s *Server) pathError(tool string, err error) Envelope {
	var perr *fileops.PathError
	if errors.As(err, &perr) {
		return Err(ErrorType(perr.Kind), perr.Message, perr.Details, s.meta(tool))
	}
	return Err(ErrRuntime, "Failed to resolve path.", err.Error(), s.meta(tool))
}

// readLocalCIF resolves path against the allowed roots and parses the file.
func (s *Server) readLocalCIF(tool, path string) (*chem.Structure, string, *Envelope) {
	resolved, err := fileops.ResolveLocalPath(path, s.cfg.AllowedRoots(), s.cfg.MCP.MaxFileBytes)
	if err != nil {
		env := s.pathError(tool, err)
		return nil, "", &env
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		env := Err(ErrRuntime, "Failed to read CIF file.", err.Error(), s.meta(tool))
		return nil, "", &env
	}
	st, err := chem.ParseCIF(string(data))
	if err != nil {
		env := Err(ErrRuntime, "Failed to read CIF file.", err.Error(), s.meta(tool))
		return nil, "", &env
	}
	return st, string(data), nil
}

type neighborResult struct {
	Rank       int     `json:"rank"`
	MaterialID string  `json:"material_id"`
	Formula    string  `json:"formula"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

func neighborResults(ns []embedding.Neighbor) ([]neighborResult, []string) {
	embedding.SortNeighbors(ns)
	out := make([]neighborResult, len(ns))
	ids := make([]string, len(ns))
	for i, n := range ns {
		out[i] = neighborResult{
			Rank:       i + 1,
			MaterialID: n.MaterialID,
			Formula:    n.Formula,
			Distance:   n.Distance,
			Similarity: embedding.Similarity(n.Distance),
		}
		ids[i] = n.MaterialID
	}
	return out, ids
}

func (s *Server) searchFailed(tool string, spec assets.Spec, err error) Envelope {
	if errors.Is(err, assets.ErrNotFound) {
		return s.missingAsset(tool, spec)
	}
	return Err(ErrRuntime, "Similarity search failed.", err.Error(), s.meta(tool))
}

func (s *Server) searchByComposition(ctx context.Context, req mcp.CallToolRequest) Envelope {
	const name = "search_similar_by_composition"
	formula := req.GetString("formula", "")
	if _, env := s.parseFormula(name, formula); env != nil {
		return *env
	}
	n, env := s.topN(name, req)
	if env != nil {
		return *env
	}
	spec := s.agent.CompositionAsset()
	if !spec.Exists() {
		return s.missingAsset(name, spec)
	}

	neighbors, err := s.agent.FindSimilarMaterialsByComposition(ctx, formula, n)
	if err != nil {
		return s.searchFailed(name, spec, err)
	}
	results, ids := neighborResults(neighbors)
	return OK(map[string]any{
		"query":       formula,
		"num_results": len(results),
		"neighbors":   results,
	}, s.meta(name), FromIDs(SourceComputed, ids))
}

func (s *Server) structureSearch(ctx context.Context, name string, st *chem.Structure, cif string, n int) Envelope {
	spec := s.agent.StructureAsset()
	if !spec.Exists() {
		return s.missingAsset(name, spec)
	}
	neighbors, err := s.agent.FindSimilarMaterialsByStructure(ctx, st, cif, n)
	if err != nil {
		return s.searchFailed(name, spec, err)
	}
	results, ids := neighborResults(neighbors)
	return OK(map[string]any{
		"num_results": len(results),
		"neighbors":   results,
	}, s.meta(name), FromIDs(SourceComputed, ids))
}

// parseInlineCIF parses CIF text passed as an argument. It is held to the
// same size limit as files read from disk.
func (s *Server) parseInlineCIF(tool, cif string) (*chem.Structure, *Envelope) {
	limit := s.cfg.MCP.MaxFileBytes
	if limit <= 0 {
		limit = fileops.DefaultMaxFileBytes
	}
	if size := int64(len(cif)); size > limit {
		env := Err(ErrFileTooLarge, "CIF text exceeds size limit.", map[string]any{
			"size":      size,
			"max_bytes": limit,
		}, s.meta(tool))
		return nil, &env
	}
	st, err := chem.ParseCIF(cif)
	if err != nil {
		env := Err(ErrInvalidInput, "Failed to parse CIF text.", err.Error(), s.meta(tool))
		return nil, &env
	}
	return st, nil
}

func (s *Server) searchByStructureCIF(ctx context.Context, req mcp.CallToolRequest) Envelope {
	const name = "search_similar_by_structure_cif"
	cif := req.GetString("cif", "")
	st, env := s.parseInlineCIF(name, cif)
	if env != nil {
		return *env
	}
	n, env := s.topN(name, req)
	if env != nil {
		return *env
	}
	return s.structureSearch(ctx, name, st, cif, n)
}

func (s *Server) searchByStructurePath(ctx context.Context, req mcp.CallToolRequest) Envelope {
	const name = "search_similar_by_structure_path"
	st, cif, env := s.readLocalCIF(name, req.GetString("cif_path", ""))
	if env != nil {
		return *env
	}
	n, env := s.topN(name, req)
	if env != nil {
		return *env
	}
	return s.structureSearch(ctx, name, st, cif, n)
}

func (s *Server) readCIF(_ context.Context, req mcp.CallToolRequest) Envelope {
	const name = "read_cif"
	st, env := s.parseInlineCIF(name, req.GetString("cif", ""))
	if env != nil {
		return *env
	}
	return OK(st.Summary(), s.meta(name), FromIDs(SourceLocal, nil))
}

func (s *Server) readCIFPath(_ context.Context, req mcp.CallToolRequest) Envelope {
	const name = "read_cif_path"
	st, _, env := s.readLocalCIF(name, req.GetString("cif_path", ""))
	if env != nil {
		return *env
	}
	return OK(st.Summary(), s.meta(name), FromIDs(SourceLocal, nil))
}

// mpErrorType maps a Materials Project client error to an envelope type.
func mpErrorType(err error) ErrorType {
	switch mp.KindOf(err) {
	case mp.KindTimeout:
		return ErrUpstreamTimeout
	case mp.KindRateLimited:
		return ErrUpstreamRateLimited
	default:
		return ErrMPAPI
	}
}

func (s *Server) materialProperties(ctx context.Context, req mcp.CallToolRequest) Envelope {
	const name = "get_material_properties"
	var ids []string
	for _, id := range req.GetStringSlice("material_ids", nil) {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Err(ErrInvalidInput, "material_ids must be a non-empty list.", nil, s.meta(name))
	}
	if s.keys.MPAPIKey() == "" {
		return Err(ErrMissingEnv, "MP_API_KEY not found in environment.", nil, s.meta(name))
	}

	props, err := s.agent.GetMaterialProperties(ctx, ids)
	if err != nil {
		return Err(mpErrorType(err), "Failed to fetch material properties from Materials Project.", err.Error(), s.meta(name))
	}
	found := make([]string, len(props))
	for i, p := range props {
		found[i] = p.MaterialID
	}
	return OK(props, s.meta(name), FromIDs(SourceMP, found))
}

func (s *Server) synthesisRecipes(ctx context.Context, req mcp.CallToolRequest) Envelope {
	const name = "get_synthesis_recipes"
	formula := req.GetString("formula", "")
	if _, env := s.parseFormula(name, formula); env != nil {
		return *env
	}
	limit := req.GetInt("max_recipes", defaultMaxRecipes)
	if limit < 0 {
		return Err(ErrInvalidInput, "max_recipes must not be negative.", limit, s.meta(name))
	}

	res, src, err := s.agent.FindRecipes(ctx, formula, limit)
	switch {
	case err == nil:
		if src == agent.SourceLocal {
			return OK(res, s.meta(name), FromIDs(SourceLocal, nil))
		}
		return OK(res, s.meta(name), FromIDs(SourceMP, nil))
	case src == agent.SourceLocal:
		return Err(ErrRuntime, "Failed to load local synthesis dataset.", err.Error(), s.meta(name))
	case errors.Is(err, agent.ErrMissingEnv):
		return Err(ErrMissingEnv, err.Error(), nil, s.meta(name))
	case mp.KindOf(err) == mp.KindTimeout || mp.KindOf(err) == mp.KindRateLimited:
		return Err(mpErrorType(err), "Recipe retrieval failed. The Materials Project recipe route may be unavailable.", err.Error(), s.meta(name))
	default:
		return Err(ErrRuntime, "Recipe retrieval failed. The Materials Project recipe route may be unavailable.", err.Error(), s.meta(name))
	}
}

func (s *Server) analyzeParameters(_ context.Context, req mcp.CallToolRequest) Envelope {
	const name = "analyze_synthesis_parameters"
	params, err := analysis.Analyze(req.GetString("text", ""))
	if err != nil {
		return Err(ErrInvalidInput, "text is required.", nil, s.meta(name))
	}
	return OK(params, s.meta(name), FromIDs(SourceComputed, nil))
}

func (s *Server) recursiveSearch(ctx context.Context, req mcp.CallToolRequest) Envelope {
	const name = "recursive_synthesis_search"
	formula := req.GetString("formula", "")
	if _, env := s.parseFormula(name, formula); env != nil {
		return *env
	}
	depth := req.GetInt("max_depth", synthesis.DefaultMaxDepth)
	minConf := req.GetFloat("min_confidence", synthesis.DefaultMinConfidence)
	nInitial := req.GetInt("n_initial_neighbors", synthesis.DefaultInitialNeighbors)
	switch {
	case depth < 1 || depth > 10:
		return Err(ErrInvalidInput, "max_depth must be between 1 and 10.", depth, s.meta(name))
	case minConf <= 0 || minConf > 1:
		return Err(ErrInvalidInput, "min_confidence must be in (0, 1].", minConf, s.meta(name))
	case nInitial < 1 || nInitial > maxTopN:
		return Err(ErrInvalidInput, fmt.Sprintf("n_initial_neighbors must be between 1 and %d.", maxTopN), nInitial, s.meta(name))
	}

	spec := s.agent.CompositionAsset()
	if !spec.Exists() {
		return s.missingAsset(name, spec)
	}
	if s.keys.MPAPIKey() == "" {
		return Err(ErrMissingEnv, "MP_API_KEY not found in environment.", nil, s.meta(name))
	}

	searcher := synthesis.NewSearcher(s.agent, synthesis.Options{MaxDepth: depth, MinConfidence: minConf})
	res, err := searcher.Search(ctx, formula, nInitial)
	if err != nil {
		if errors.Is(err, agent.ErrMissingEnv) {
			return Err(ErrMissingEnv, agent.ErrMissingEnv.Error(), nil, s.meta(name))
		}
		return Err(ErrRuntime, "Recursive synthesis search failed.", err.Error(), s.meta(name))
	}
	return OK(res, s.meta(name), FromIDs(SourceComputed, nil))
}

func (s *Server) discoverReport(ctx context.Context, req mcp.CallToolRequest) Envelope {
	const name = "discover_synthesis_report"
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return Err(ErrInvalidInput, "query is required.", nil, s.meta(name))
	}
	key := s.keys.OpenAIAPIKey()
	if key == "" {
		return Err(ErrMissingEnv, "OPENAI_API_KEY or OPENAI_MDG_API_KEY not found in environment.", nil, s.meta(name))
	}

	fail := func(err error) Envelope {
		return Err(ErrRuntime, "Synthesis report generation failed.", err.Error(), s.meta(name, reportWarnings...))
	}
	completer, err := s.newCompleter(key)
	if err != nil {
		return fail(err)
	}
	cwd, err := s.getwd()
	if err != nil {
		return fail(err)
	}

	opts := []report.Option{}
	if s.agent.HasMPKey() && s.agent.CompositionAsset().Exists() {
		opts = append(opts, report.WithRecursiveSearch(synthesis.NewSearcher(s.agent, synthesis.Options{})))
	}
	d := report.NewDiscoverer(s.agent, completer, opts...)
	w := &report.Writer{Dir: s.cfg.ResolvedReportsDir(cwd), Base: cwd}

	text, path, err := d.Generate(ctx, query, req.GetBool("html", false), w)
	if err != nil {
		return fail(err)
	}

	data := map[string]any{"analysis_text": text}
	var outputs []string
	if path != "" {
		data["report_path"] = path
		outputs = append(outputs, path)
	}
	sort.Strings(outputs)
	return OK(data, s.meta(name, reportWarnings...), FromOutputs(SourceOpenAI, outputs))
}
