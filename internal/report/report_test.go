package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sky/internal/agent"
	"sky/internal/assets"
	"sky/internal/embedding"
	"sky/internal/llm"
	"sky/internal/recipes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	recipes  map[string][]recipes.Recipe
	neighErr error
	recErr   error
}

func (f *fakeSource) FindSimilarMaterialsByComposition(_ context.Context, formula string, n int) ([]embedding.Neighbor, error) {
	if f.neighErr != nil {
		return nil, f.neighErr
	}
	return []embedding.Neighbor{
		{MaterialID: "mp-19770", Formula: "Fe2O3", Distance: 0, Confidence: 1},
		{MaterialID: "mp-19306", Formula: "Fe3O4", Distance: 0.2, Confidence: 1 / 1.2},
	}, nil
}

func (f *fakeSource) FindRecipes(_ context.Context, formula string, max int) (*recipes.Result, agent.RecipeSource, error) {
	if f.recErr != nil {
		return nil, "", f.recErr
	}
	rs := f.recipes[formula]
	return &recipes.Result{TargetFormula: formula, RecipesFound: len(rs), Recipes: rs}, agent.SourceLocal, nil
}

type recordingLLM struct {
	last  llm.Request
	reply string
}

func (r *recordingLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	r.last = req
	return r.reply, nil
}

func TestDefaultPrompt(t *testing.T) {
	p := DefaultPrompt()
	assert.Equal(t, "discover", p.Name)
	assert.NotEmpty(t, p.System)
	assert.InDelta(t, 0.2, p.Temperature, 1e-6)
}

func TestParsePromptErrors(t *testing.T) {
	tests := map[string]string{
		"no frontmatter": "just a body",
		"no system":      "---\nname: x\n---\nbody",
		"empty body":     "---\nsystem: s\n---\n",
		"bad template":   "---\nsystem: s\n---\n{{.Query",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePrompt(strings.NewReader(content))
			assert.Error(t, err)
		})
	}
}

func TestLoadPromptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.md")
	content := "---\nname: custom\nmodel: gpt-x\nsystem: Be brief.\n---\nAbout {{.Query}}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := LoadPromptFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-x", p.Model)
	out, err := p.Render(promptData{Query: "NaCl"})
	require.NoError(t, err)
	assert.Equal(t, "About NaCl", strings.TrimSpace(out))
}

func TestDiscoverIncludesContext(t *testing.T) {
	src := &fakeSource{recipes: map[string][]recipes.Recipe{
		"Fe2O3": {{
			"doi":              "10.1/fe",
			"reaction_string":  "2 Fe + 1.5 O2 == Fe2O3",
			"paragraph_string": "Iron powder was calcined at 600 C for 4 h in air.",
		}},
	}}
	model := &recordingLLM{reply: "# Fe2O3 synthesis\nCalcine."}
	d := NewDiscoverer(src, model)

	out, err := d.Discover(context.Background(), "How do I make Fe2O3?")
	require.NoError(t, err)
	assert.Equal(t, "# Fe2O3 synthesis\nCalcine.", out)

	user := model.last.User
	assert.Contains(t, user, "How do I make Fe2O3?")
	assert.Contains(t, user, "Target material: **Fe2O3**")
	assert.Contains(t, user, "2 Fe + 1.5 O2 == Fe2O3")
	assert.Contains(t, user, "10.1/fe")
	assert.Contains(t, user, "Fe3O4 (mp-19306")
	assert.Contains(t, user, "Atmospheres: air (1)")
	assert.Equal(t, DefaultPrompt().System, model.last.System)
}

func TestDiscoverNotesMissingContext(t *testing.T) {
	src := &fakeSource{
		recErr:   agent.ErrMissingEnv,
		neighErr: &assets.NotFoundError{Spec: assets.CompositionEmbedding(t.TempDir())},
	}
	model := &recordingLLM{reply: "ok"}
	_, err := NewDiscoverer(src, model).Discover(context.Background(), "LiFePO4 cathode")
	require.NoError(t, err)

	assert.Contains(t, model.last.User, "no Materials Project API key configured")
	assert.Contains(t, model.last.User, "embedding asset not installed")
	assert.Contains(t, model.last.User, "No literature recipes were found")
}

func TestDiscoverWithoutFormula(t *testing.T) {
	model := &recordingLLM{reply: "ok"}
	_, err := NewDiscoverer(&fakeSource{}, model).Discover(context.Background(), "what is a perovskite?")
	require.NoError(t, err)
	assert.NotContains(t, model.last.User, "Target material")

	_, err = NewDiscoverer(nil, model).Discover(context.Background(), "   ")
	assert.Error(t, err)
}

func TestFormula(t *testing.T) {
	assert.Equal(t, "LiFePO4", Formula("# Synthesis of LiFePO4\nbody", "Fe2O3"))
	assert.Equal(t, "Fe2O3", Formula("no heading", "make Fe2O3"))
	assert.Equal(t, "perovskites", Formula("", " perovskites "))
}

func TestRenderHTML(t *testing.T) {
	orig := now
	now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC) }
	t.Cleanup(func() { now = orig })

	page, err := RenderHTML("# Route\n\n| step | T |\n|---|---|\n| calcine | 600 C |\n\n<script>alert(1)</script>", "Fe2O3")
	require.NoError(t, err)
	assert.Contains(t, page, "<title>Synthesis report: Fe2O3</title>")
	assert.Contains(t, page, "Fe<sub>2</sub>O<sub>3</sub>")
	assert.Contains(t, page, "<h1>Route</h1>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "2026-01-02 03:04 UTC")
	assert.NotContains(t, page, "<script>alert(1)</script>")
}

func TestBuildReportPath(t *testing.T) {
	fixed := func() string { return "fixed-uuid" }
	tests := []struct {
		query string
		want  string
	}{
		{"Fe2O3", "Fe2O3_fixed-uuid.html"},
		{"How to make LiFePO4?", "How_to_make_LiFePO4_fixed-uuid.html"},
		{"  ?? ", "report_fixed-uuid.html"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50) + "_fixed-uuid.html"},
	}
	for _, tt := range tests {
		assert.Equal(t, filepath.Join("sky_reports", tt.want), BuildReportPath(tt.query, "sky_reports", fixed))
	}

	random := BuildReportPath("x", "dir", nil)
	assert.Regexp(t, `^dir/x_[0-9a-f-]{36}\.html$`, filepath.ToSlash(random))
}

func TestWriterWrite(t *testing.T) {
	base := t.TempDir()
	w := &Writer{Dir: filepath.Join(base, "sky_reports"), Base: base, NewID: func() string { return "fixed-uuid" }}

	rel, err := w.Write("Fe2O3", "<html></html>")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("sky_reports", "Fe2O3_fixed-uuid.html"), rel)

	data, err := os.ReadFile(filepath.Join(base, rel))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))
	assert.True(t, DirWritable(w.Dir))
}

func TestGenerate(t *testing.T) {
	base := t.TempDir()
	w := &Writer{Dir: filepath.Join(base, "sky_reports"), Base: base, NewID: func() string { return "id" }}
	d := NewDiscoverer(&fakeSource{}, &recordingLLM{reply: "# NaCl\nDissolve and evaporate."})

	text, path, err := d.Generate(context.Background(), "NaCl", false, w)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Contains(t, text, "evaporate")

	_, path, err = d.Generate(context.Background(), "NaCl", true, w)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("sky_reports", "NaCl_id.html"), path)
}
