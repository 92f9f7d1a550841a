package assets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestFindAsset(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b_composition_v2.db"))
	touch(t, filepath.Join(dir, "a_composition_v1.db"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir_composition.db"), 0755))

	p, ok := FindAsset([]string{"mp_dataset_composition_magpie.db"}, []string{"*composition*.db"}, dir)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "a_composition_v1.db"), p, "glob matches are taken in sorted order")

	touch(t, filepath.Join(dir, "mp_dataset_composition_magpie.db"))
	p, ok = FindAsset([]string{"mp_dataset_composition_magpie.db"}, []string{"*composition*.db"}, dir)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "mp_dataset_composition_magpie.db"), p, "preferred name wins")

	_, ok = FindAsset(nil, []string{"*structure*.db"}, dir)
	assert.False(t, ok)

	_, ok = FindAsset([]string{"x.db"}, []string{"*.db"}, filepath.Join(dir, "missing"))
	assert.False(t, ok)
}

func TestListAssetFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "z_structure.db"))
	touch(t, filepath.Join(dir, "a_structure.jsonl.gz"))
	touch(t, filepath.Join(dir, "m_structure.db"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d_structure.db"), 0755))

	files := StructureEmbedding(dir).Files()
	assert.Equal(t, []string{"a_structure.jsonl.gz", "m_structure.db", "z_structure.db"}, files)

	assert.Empty(t, ListAssetFiles(filepath.Join(dir, "missing"), []string{"*"}))
	assert.NotNil(t, ListAssetFiles(filepath.Join(dir, "missing"), []string{"*"}))
}

func TestSpecFindNotFound(t *testing.T) {
	spec := StructureEmbedding(t.TempDir())
	_, err := spec.Find()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	details := nf.Details()
	assert.Equal(t, spec.Base, details["base_dir"])
	assert.Equal(t, spec.Preferred, details["preferred_names"])
	assert.Equal(t, spec.Globs, details["globs"])
}

func TestRecipesDataset(t *testing.T) {
	dir := t.TempDir()
	spec := RecipesDataset(dir)
	assert.False(t, spec.Exists())

	touch(t, filepath.Join(dir, "text_mined_synthesis_recipes.json"))
	p, err := spec.Find()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "text_mined_synthesis_recipes.json"), p)
	assert.True(t, spec.Exists())
}
