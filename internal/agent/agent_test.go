package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sky/internal/assets"
	"sky/internal/chem"
	"sky/internal/embedding"
	"sky/internal/mp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFormulas = map[string]string{
	"mp-1":  "Fe2O3",
	"mp-2":  "Fe3O4",
	"mp-3":  "Al2O3",
	"mp-4":  "NaCl",
	"mp-22": "CsCl",
}

func writeCompositionAsset(t *testing.T, assetsDir string) {
	t.Helper()
	tbl := &embedding.Table{Meta: embedding.Meta{Featurizer: embedding.FeaturizerElementFraction}}
	for _, id := range []string{"mp-1", "mp-2", "mp-22", "mp-3", "mp-4"} {
		vec, err := embedding.ElementFractionVector(testFormulas[id])
		require.NoError(t, err)
		tbl.Rows = append(tbl.Rows, embedding.Row{MaterialID: id, Formula: testFormulas[id], Vector: vec})
	}
	dir := filepath.Join(assetsDir, "embedding")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, embedding.WriteSQLite(context.Background(), filepath.Join(dir, "mp_dataset_composition_magpie.db"), tbl))
}

func writeStructureAsset(t *testing.T, assetsDir string) {
	t.Helper()
	tbl := &embedding.Table{Meta: embedding.Meta{Featurizer: embedding.FeaturizerStructureDescriptor}}
	for _, tc := range []struct {
		id, formula string
		a           float64
	}{{"mp-22", "CsCl", 4.123}, {"mp-4", "NaCl", 5.64}} {
		lat, err := chem.LatticeFromParameters(tc.a, tc.a, tc.a, 90, 90, 90)
		require.NoError(t, err)
		comp, err := chem.ParseFormula(tc.formula)
		require.NoError(t, err)
		elems := comp.Elements()
		st := &chem.Structure{Lattice: lat, Sites: []chem.Site{
			{Element: elems[0], Frac: [3]float64{0, 0, 0}},
			{Element: elems[1], Frac: [3]float64{0.5, 0.5, 0.5}},
		}}
		vec, err := embedding.StructureDescriptorVector(st)
		require.NoError(t, err)
		tbl.Rows = append(tbl.Rows, embedding.Row{MaterialID: tc.id, Formula: tc.formula, Vector: vec})
	}
	dir := filepath.Join(assetsDir, "embedding")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, embedding.WriteJSONL(filepath.Join(dir, "mp_dataset_structure_mace.jsonl.gz"), tbl))
}

func newMPServer(t *testing.T, h http.HandlerFunc) mp.Options {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return mp.Options{Endpoint: srv.URL, MaxRetries: 1, InitialBackoff: time.Millisecond, Timeout: 2 * time.Second}
}

func TestFindSimilarMaterialsByComposition(t *testing.T) {
	dir := t.TempDir()
	writeCompositionAsset(t, dir)
	a := New(Options{AssetsDir: dir}, nil)

	got, err := a.FindSimilarMaterialsByComposition(context.Background(), "Fe2O3", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "mp-1", got[0].MaterialID)
	assert.InDelta(t, 0, got[0].Distance, 1e-9)
	assert.Equal(t, "mp-2", got[1].MaterialID)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}

	got, err = a.FindSimilarMaterialsByComposition(context.Background(), "NaCl", 0)
	require.NoError(t, err)
	assert.Len(t, got, len(testFormulas), "n <= 0 uses the default, capped by table size")
}

func TestFindSimilarMaterialsByCompositionErrors(t *testing.T) {
	a := New(Options{AssetsDir: t.TempDir()}, nil)

	_, err := a.FindSimilarMaterialsByComposition(context.Background(), "Xx2", 3)
	assert.Error(t, err)

	_, err = a.FindSimilarMaterialsByComposition(context.Background(), "Fe2O3", 3)
	require.ErrorIs(t, err, assets.ErrNotFound)
	var nf *assets.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Contains(t, nf.Details(), "preferred_names")
}

func TestFindSimilarMaterialsByStructure(t *testing.T) {
	dir := t.TempDir()
	writeStructureAsset(t, dir)
	a := New(Options{AssetsDir: dir}, nil)

	st, err := chem.ParseCIF(`data_CsCl
_cell_length_a 4.123
_cell_length_b 4.123
_cell_length_c 4.123
_cell_angle_alpha 90
_cell_angle_beta 90
_cell_angle_gamma 90
loop_
_atom_site_type_symbol
_atom_site_fract_x
_atom_site_fract_y
_atom_site_fract_z
Cs 0 0 0
Cl 0.5 0.5 0.5
`)
	require.NoError(t, err)

	got, err := a.FindSimilarMaterialsByStructure(context.Background(), st, "", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "mp-22", got[0].MaterialID)

	_, err = a.FindSimilarMaterialsByStructure(context.Background(), &chem.Structure{}, "", 5)
	assert.Error(t, err)
}

func TestMPOperationsRequireKey(t *testing.T) {
	a := New(Options{AssetsDir: t.TempDir()}, StaticKey(""))
	assert.False(t, a.HasMPKey())

	_, err := a.GetSynthesisRecipesByFormula(context.Background(), "Fe2O3")
	assert.ErrorIs(t, err, ErrMissingEnv)
	_, err = a.GetSummaryDocByMaterialID(context.Background(), "mp-1")
	assert.ErrorIs(t, err, ErrMissingEnv)
	_, err = a.GetStructureByMaterialID(context.Background(), "mp-1")
	assert.ErrorIs(t, err, ErrMissingEnv)
	_, err = a.GetMaterialProperties(context.Background(), []string{"mp-1"})
	assert.ErrorIs(t, err, ErrMissingEnv)
	_, _, err = a.FindRecipes(context.Background(), "Fe2O3", 5)
	assert.ErrorIs(t, err, ErrMissingEnv)
}

func TestGetMaterialProperties(t *testing.T) {
	opts := newMPServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/materials/summary/", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[
			{"material_id":"mp-2","formula_pretty":"Fe3O4","band_gap":0.0,"density":5.1},
			{"material_id":"mp-1","formula_pretty":"Fe2O3","band_gap":2.1,"volume":100.5}]}`))
	})
	a := New(Options{MP: opts}, StaticKey("test-key"))

	props, err := a.GetMaterialProperties(context.Background(), []string{"mp-2", "mp-1"})
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, "mp-1", props[0].MaterialID)
	assert.Equal(t, mp.MaterialURL("mp-1"), props[0].MPURL)
	require.NotNil(t, props[0].BandGap)
	assert.Equal(t, 2.1, *props[0].BandGap)
	assert.Nil(t, props[0].Density)
	require.NotNil(t, props[1].BandGap)
	assert.Equal(t, 0.0, *props[1].BandGap)
}

func TestGetStructureByMaterialID(t *testing.T) {
	opts := newMPServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("material_ids") == "mp-missing" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"structure":{
			"lattice":{"matrix":[[4.123,0,0],[0,4.123,0],[0,0,4.123]]},
			"sites":[
				{"species":[{"element":"Cs","occu":1}],"abc":[0,0,0]},
				{"species":[{"element":"Cl","occu":1}],"abc":[0.5,0.5,0.5]}]}}]}`))
	})
	a := New(Options{MP: opts}, StaticKey("test-key"))

	st, err := a.GetStructureByMaterialID(context.Background(), "mp-22")
	require.NoError(t, err)
	assert.Equal(t, "CsCl", st.Composition().ReducedFormula())
	assert.Len(t, st.Sites, 2)

	_, err = a.GetStructureByMaterialID(context.Background(), "mp-missing")
	assert.ErrorIs(t, err, mp.ErrNotFound)
}

func TestFindRecipesPrefersLocalDataset(t *testing.T) {
	dir := t.TempDir()
	data := `[{"target_formula":"Fe2O3","doi":"10.2/b","paragraph_string":"b"},
		{"target_formula":"Fe4O6","doi":"10.1/a","paragraph_string":"a"},
		{"target_formula":"Al2O3","doi":"10.3/c"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mp_synthesis_recipes.json"), []byte(data), 0o644))

	calls := 0
	opts := newMPServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	a := New(Options{AssetsDir: dir, MP: opts}, StaticKey("test-key"))

	res, src, err := a.FindRecipes(context.Background(), "Fe2O3", 1)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src)
	assert.Equal(t, 2, res.RecipesFound)
	require.Len(t, res.Recipes, 1)
	assert.Equal(t, "10.2/b", res.Recipes[0]["doi"])
	assert.Zero(t, calls, "local hit must not touch the API")
}

func TestFindRecipesFallsBackToMP(t *testing.T) {
	opts := newMPServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/materials/synthesis/", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[
			{"target_formula":"LiFePO4","doi":"10.9/z"},
			{"target_formula":"LiFePO4","doi":"10.1/a"},
			{"target_formula":"LiFePO4","doi":"10.5/m"}]}`))
	})
	a := New(Options{AssetsDir: t.TempDir(), MP: opts}, StaticKey("test-key"))

	res, src, err := a.FindRecipes(context.Background(), "LiFePO4", 2)
	require.NoError(t, err)
	assert.Equal(t, SourceMP, src)
	assert.Equal(t, 3, res.RecipesFound)
	require.Len(t, res.Recipes, 2)
	assert.Equal(t, "10.1/a", res.Recipes[0]["doi"])
	assert.Equal(t, "10.5/m", res.Recipes[1]["doi"])

	_, _, err = a.FindRecipes(context.Background(), "", 2)
	assert.True(t, errors.Is(err, chem.ErrEmptyFormula))
}
