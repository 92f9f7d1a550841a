// Package embedding implements nearest-neighbour search over precomputed
// material embedding tables.
//
// A table is loaded on first query and kept in memory. A failed or canceled
// load is retried by the next query. Queries are brute-force scans over every
// row; the tables are small enough (one row per Materials Project entry) that
// no index is needed.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"sky/internal/chem"
	"sky/internal/logging"
)

// DefaultMaxNeighbors caps the number of neighbours a query may return.
const DefaultMaxNeighbors = 100

// Neighbor is a single similarity search result.
type Neighbor struct {
	MaterialID string  `json:"material_id"`
	Formula    string  `json:"formula"`
	Distance   float64 `json:"distance"`
	// Confidence is 1/(1+Distance), in (0, 1].
	Confidence float64 `json:"confidence"`
}

// Similarity maps a distance to (0, 1].
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}

// SearchAPI answers similarity queries against one embedding asset.
type SearchAPI struct {
	path         string
	maxNeighbors int
	embedder     Embedder

	mu     sync.Mutex
	loaded *loadedTable
}

type loadedTable struct {
	table      *Table
	featurizer Featurizer
	byFormula  map[string]int
}

// Option configures a SearchAPI.
type Option func(*SearchAPI)

// WithMaxNeighbors sets the neighbour cap (default 100).
func WithMaxNeighbors(n int) Option {
	return func(s *SearchAPI) {
		if n > 0 {
			s.maxNeighbors = n
		}
	}
}

// WithEmbedder sets the embedder used by "remote:<model>" tables.
func WithEmbedder(e Embedder) Option {
	return func(s *SearchAPI) { s.embedder = e }
}

// NewSearchAPI creates a search API over the asset at path. The asset is not
// read until the first query.
func NewSearchAPI(path string, opts ...Option) *SearchAPI {
	s := &SearchAPI{path: path, maxNeighbors: DefaultMaxNeighbors}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SearchAPI) load(ctx context.Context) (*loadedTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded != nil {
		return s.loaded, nil
	}

	// Failures are not cached.
	t, err := LoadTable(ctx, s.path)
	if err != nil {
		return nil, err
	}
	l := &loadedTable{
		table:      t,
		featurizer: NewFeaturizer(t.Meta, s.embedder),
		byFormula:  make(map[string]int, len(t.Rows)),
	}
	for i, r := range t.Rows {
		red, err := chem.ReducedFormula(r.Formula)
		if err != nil {
			continue
		}
		if _, dup := l.byFormula[red]; !dup {
			l.byFormula[red] = i
		}
	}
	s.loaded = l
	return l, nil
}

// Query returns the min(n, maxNeighbors) rows closest to in, ordered by
// distance, then material id, then formula.
func (s *SearchAPI) Query(ctx context.Context, in Input, n int) ([]Neighbor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("number of neighbors must be positive, got %d", n)
	}
	l, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	q, err := l.queryVector(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(q) != l.table.Meta.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d does not match table dimension %d",
			ErrUnsupportedQuery, len(q), l.table.Meta.Dimension)
	}

	dist := euclidean
	if l.table.Meta.Metric == MetricCosine {
		dist = cosineDistance
	}

	out := make([]Neighbor, len(l.table.Rows))
	for i, r := range l.table.Rows {
		d := dist(q, r.Vector)
		out[i] = Neighbor{MaterialID: r.MaterialID, Formula: r.Formula, Distance: d, Confidence: Similarity(d)}
	}
	SortNeighbors(out)

	if k := min(n, s.maxNeighbors); len(out) > k {
		out = out[:k]
	}
	logging.Debug("Similarity query", "asset", s.path, "formula", in.Formula, "returned", len(out))
	return out, nil
}

func (l *loadedTable) queryVector(ctx context.Context, in Input) ([]float32, error) {
	if l.featurizer != nil {
		return l.featurizer.Featurize(ctx, in)
	}

	// Without a local featurizer the material must already be in the table.
	formula := in.Formula
	if formula == "" && in.Structure != nil {
		formula = in.Structure.Composition().ReducedFormula()
	}
	red, err := chem.ReducedFormula(formula)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedQuery, err)
	}
	idx, ok := l.byFormula[red]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in the table and featurizer %q is not available locally",
			ErrUnsupportedQuery, red, l.table.Meta.Featurizer)
	}
	return l.table.Rows[idx].Vector, nil
}

// SortNeighbors orders neighbours by distance, then material id, then formula.
func SortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		a, b := ns[i], ns[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.MaterialID != b.MaterialID {
			return a.MaterialID < b.MaterialID
		}
		return a.Formula < b.Formula
	})
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// cosineDistance is 1 - cos(a, b); zero vectors are at distance 1.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	if d < 0 {
		d = 0
	}
	return d
}
