// Package recipes reads the local text-mined synthesis recipe dataset.
//
// The dataset is a JSON array of recipe documents (optionally gzip
// compressed). Recipes are passed through verbatim; only target_formula is
// interpreted, to match recipes by reduced formula.
package recipes

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"sky/internal/chem"
	"sky/internal/logging"
)

// Recipe is an opaque synthesis recipe document.
type Recipe = map[string]any

// SortKeys are the fields recipes are ordered by.
var SortKeys = []string{"target_formula", "doi", "paragraph_string", "reaction_string"}

// Result is a dataset lookup.
type Result struct {
	TargetFormula string   `json:"target_formula"`
	RecipesFound  int      `json:"recipes_found"`
	Recipes       []Recipe `json:"recipes"`
}

// Dataset is a lazily loaded recipe file. A failed load is retried on the
// next lookup.
type Dataset struct {
	path string

	mu      sync.Mutex
	loaded  bool
	recipes []Recipe
	byRed   map[string][]int
}

// Open returns a dataset backed by path. The file is read on first use.
func Open(path string) *Dataset {
	return &Dataset{path: path}
}

func (d *Dataset) load() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return nil
	}

	start := time.Now()
	recipes, err := readRecipes(d.path)
	if err != nil {
		return err
	}
	byRed := make(map[string][]int)
	skipped := 0
	for i, r := range recipes {
		target, _ := r["target_formula"].(string)
		if target == "" {
			skipped++
			continue
		}
		red, err := chem.ReducedFormula(target)
		if err != nil {
			skipped++
			continue
		}
		byRed[red] = append(byRed[red], i)
	}
	d.recipes, d.byRed, d.loaded = recipes, byRed, true
	logging.LogPerformance("load recipes dataset", start)
	logging.Debug("Loaded recipes dataset", "path", d.path, "recipes", len(recipes), "skipped", skipped)
	return nil
}

// Match returns recipes whose target reduces to the same formula as formula,
// sorted by SortKeys and truncated to max (max <= 0 means no limit).
// RecipesFound counts every match before truncation.
func (d *Dataset) Match(formula string, max int) (*Result, error) {
	red, err := chem.ReducedFormula(formula)
	if err != nil {
		return nil, err
	}
	if err := d.load(); err != nil {
		return nil, err
	}

	idx := d.byRed[red]
	matched := make([]Recipe, len(idx))
	for i, j := range idx {
		matched[i] = d.recipes[j]
	}
	Sort(matched)

	found := len(matched)
	if max > 0 && len(matched) > max {
		matched = matched[:max]
	}
	return &Result{TargetFormula: formula, RecipesFound: found, Recipes: matched}, nil
}

// Sort orders recipes by SortKeys. Missing or non-string keys sort as "".
func Sort(rs []Recipe) {
	sort.SliceStable(rs, func(i, j int) bool {
		for _, k := range SortKeys {
			a, b := stringField(rs[i], k), stringField(rs[j], k)
			if a != b {
				return a < b
			}
		}
		return false
	})
}

func stringField(r Recipe, key string) string {
	s, _ := r[key].(string)
	return s
}

// Paragraph returns the free-text synthesis description of a recipe.
func Paragraph(r Recipe) string {
	return stringField(r, "paragraph_string")
}

func readRecipes(path string) ([]Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipes dataset: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var recipes []Recipe
	if err := json.NewDecoder(r).Decode(&recipes); err != nil {
		return nil, fmt.Errorf("failed to decode recipes dataset %s: %w", path, err)
	}
	return recipes, nil
}
