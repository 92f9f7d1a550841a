package recipes

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleRecipes = []Recipe{
	{"target_formula": "Fe2O3", "doi": "10.2/b", "paragraph_string": "Calcined at 600 C in air."},
	{"target_formula": "Fe4O6", "doi": "10.1/a", "paragraph_string": "Hydrothermal route."},
	{"target_formula": "Fe2O3", "doi": "10.1/a", "paragraph_string": "Sol-gel then 500 C."},
	{"target_formula": "Al2O3", "doi": "10.3/c"},
	{"target_formula": "not-a-formula", "doi": "10.4/d"},
	{"doi": "10.5/e"},
}

func writeDataset(t *testing.T, name string, gz bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	if gz {
		zw := gzip.NewWriter(f)
		require.NoError(t, json.NewEncoder(zw).Encode(sampleRecipes))
		require.NoError(t, zw.Close())
		return path
	}
	require.NoError(t, json.NewEncoder(f).Encode(sampleRecipes))
	return path
}

func TestMatchByReducedFormula(t *testing.T) {
	for _, gz := range []bool{true, false} {
		name := "mp_synthesis_recipes.json"
		if gz {
			name += ".gz"
		}
		t.Run(name, func(t *testing.T) {
			ds := Open(writeDataset(t, name, gz))

			res, err := ds.Match("Fe4O6", 10)
			require.NoError(t, err)
			assert.Equal(t, "Fe4O6", res.TargetFormula)
			assert.Equal(t, 3, res.RecipesFound)
			require.Len(t, res.Recipes, 3)

			// target_formula, then doi, then paragraph
			assert.Equal(t, "10.1/a", res.Recipes[0]["doi"])
			assert.Equal(t, "Fe2O3", res.Recipes[0]["target_formula"])
			assert.Equal(t, "10.2/b", res.Recipes[1]["doi"])
			assert.Equal(t, "Fe4O6", res.Recipes[2]["target_formula"])
		})
	}
}

func TestMatchTruncatesButCountsAll(t *testing.T) {
	ds := Open(writeDataset(t, "recipes.json", false))

	res, err := ds.Match("Fe2O3", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RecipesFound)
	assert.Len(t, res.Recipes, 1)

	res, err = ds.Match("NaCl", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RecipesFound)
	assert.NotNil(t, res.Recipes)
	assert.Empty(t, res.Recipes)
}

func TestFailedLoadIsRetried(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipes.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"truncated":`), 0644))
	ds := Open(path)

	_, err := ds.Match("Fe2O3", 5)
	require.Error(t, err)

	data, err := json.Marshal(sampleRecipes)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	res, err := ds.Match("Fe2O3", 5)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RecipesFound)
}

func TestMatchErrors(t *testing.T) {
	ds := Open(writeDataset(t, "recipes.json", false))
	_, err := ds.Match("", 5)
	assert.Error(t, err)

	missing := Open(filepath.Join(t.TempDir(), "missing.json"))
	_, err = missing.Match("Fe2O3", 5)
	assert.Error(t, err)

	badPath := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`{"not":"a list"}`), 0644))
	_, err = Open(badPath).Match("Fe2O3", 5)
	assert.Error(t, err)
}

func TestSort(t *testing.T) {
	rs := []Recipe{
		{"target_formula": "B", "doi": "1"},
		{"target_formula": "A", "doi": "2", "reaction_string": "z"},
		{"target_formula": "A", "doi": "2", "reaction_string": "a"},
		{"doi": 5},
	}
	Sort(rs)
	assert.Nil(t, rs[0]["target_formula"])
	assert.Equal(t, "a", rs[1]["reaction_string"])
	assert.Equal(t, "z", rs[2]["reaction_string"])
	assert.Equal(t, "B", rs[3]["target_formula"])
}

func TestParagraph(t *testing.T) {
	assert.Equal(t, "x", Paragraph(Recipe{"paragraph_string": "x"}))
	assert.Equal(t, "", Paragraph(Recipe{}))
}
