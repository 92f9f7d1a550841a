// Package assets locates the data files sky reads: embedding tables under
// <assets>/embedding and the local synthesis recipe dataset under <assets>.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrNotFound is matched by *NotFoundError.
var ErrNotFound = errors.New("required asset not found")

// Spec describes where an asset is looked up.
type Spec struct {
	Base      string
	Preferred []string
	Globs     []string
}

// NotFoundError reports an asset lookup that found nothing.
type NotFoundError struct {
	Spec
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("required asset not found in %s (preferred %v, globs %v)", e.Base, e.Preferred, e.Globs)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Details returns the lookup parameters for error envelopes.
func (e *NotFoundError) Details() map[string]any {
	return map[string]any{
		"base_dir":        e.Base,
		"preferred_names": e.Preferred,
		"globs":           e.Globs,
	}
}

// CompositionEmbedding locates the composition embedding table under dir.
func CompositionEmbedding(dir string) Spec {
	return Spec{
		Base:      dir,
		Preferred: []string{"mp_dataset_composition_magpie.db", "mp_dataset_composition_magpie.jsonl.gz"},
		Globs:     []string{"*composition*.db", "*composition*.jsonl.gz"},
	}
}

// StructureEmbedding locates the structure embedding table under dir.
func StructureEmbedding(dir string) Spec {
	return Spec{
		Base:      dir,
		Preferred: []string{"mp_dataset_structure_mace.db", "mp_dataset_structure_mace.jsonl.gz"},
		Globs:     []string{"*structure*.db", "*structure*.jsonl.gz"},
	}
}

// RecipesDataset locates the local synthesis recipe dataset under the assets
// root.
func RecipesDataset(assetsDir string) Spec {
	return Spec{
		Base:      assetsDir,
		Preferred: []string{"mp_synthesis_recipes.json.gz"},
		Globs:     []string{"*synthesis*recipes*.json*"},
	}
}

// Exists reports whether the spec resolves to a file.
func (s Spec) Exists() bool {
	_, ok := FindAsset(s.Preferred, s.Globs, s.Base)
	return ok
}

// Find resolves the spec to a file path.
func (s Spec) Find() (string, error) {
	if p, ok := FindAsset(s.Preferred, s.Globs, s.Base); ok {
		return p, nil
	}
	return "", &NotFoundError{Spec: s}
}

// Files lists the base names of every file matching the spec's globs.
func (s Spec) Files() []string {
	return ListAssetFiles(s.Base, s.Globs)
}

// FindAsset returns the first preferred name that exists under base as a
// regular file, else the first match of the globs in sorted order.
func FindAsset(preferred, globs []string, base string) (string, bool) {
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return "", false
	}
	for _, name := range preferred {
		p := filepath.Join(base, name)
		if isRegular(p) {
			return p, true
		}
	}
	for _, pattern := range globs {
		matches, err := filepath.Glob(filepath.Join(base, pattern))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			if isRegular(m) {
				return m, true
			}
		}
	}
	return "", false
}

// ListAssetFiles returns the sorted, de-duplicated base names of regular
// files under base matching any of the globs.
func ListAssetFiles(base string, globs []string) []string {
	seen := map[string]bool{}
	files := []string{}
	for _, pattern := range globs {
		matches, err := filepath.Glob(filepath.Join(base, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			name := filepath.Base(m)
			if isRegular(m) && !seen[name] {
				seen[name] = true
				files = append(files, name)
			}
		}
	}
	sort.Strings(files)
	return files
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
