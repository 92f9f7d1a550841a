package chem

import (
	"fmt"
	"math"
	"sort"
)

// amuPerA3ToGPerCm3 converts amu/Å^3 to g/cm^3.
const amuPerA3ToGPerCm3 = 1.66053906660

// Lattice is a periodic cell given by its three row vectors in Å.
type Lattice struct {
	Matrix [3][3]float64
}

// LatticeFromParameters builds a lattice from cell lengths (Å) and angles
// (degrees) with c along z.
func LatticeFromParameters(a, b, c, alpha, beta, gamma float64) (Lattice, error) {
	for _, v := range []float64{a, b, c, alpha, beta, gamma} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Lattice{}, fmt.Errorf("cell parameters must be finite (a=%g, b=%g, c=%g, alpha=%g, beta=%g, gamma=%g)",
				a, b, c, alpha, beta, gamma)
		}
	}
	if a <= 0 || b <= 0 || c <= 0 {
		return Lattice{}, fmt.Errorf("cell lengths must be positive (a=%g, b=%g, c=%g)", a, b, c)
	}
	ar, br, gr := rad(alpha), rad(beta), rad(gamma)
	sa, sb := math.Sin(ar), math.Sin(br)
	if sa == 0 || sb == 0 {
		return Lattice{}, fmt.Errorf("degenerate cell angles (alpha=%g, beta=%g)", alpha, beta)
	}
	val := (math.Cos(ar)*math.Cos(br) - math.Cos(gr)) / (sa * sb)
	val = math.Max(-1, math.Min(1, val))
	gammaStar := math.Acos(val)

	l := Lattice{Matrix: [3][3]float64{
		{a * sb, 0, a * math.Cos(br)},
		{-b * sa * math.Cos(gammaStar), b * sa * math.Sin(gammaStar), b * math.Cos(ar)},
		{0, 0, c},
	}}
	if l.Volume() <= 1e-9 {
		return Lattice{}, fmt.Errorf("cell volume is zero")
	}
	return l, nil
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(r float64) float64   { return r * 180 / math.Pi }

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func dot3(u, v [3]float64) float64 {
	return u[0]*v[0] + u[1]*v[1] + u[2]*v[2]
}

func angle(u, v [3]float64) float64 {
	c := dot3(u, v) / (norm3(u) * norm3(v))
	return deg(math.Acos(math.Max(-1, math.Min(1, c))))
}

// Abc returns the cell lengths.
func (l Lattice) Abc() (a, b, c float64) {
	return norm3(l.Matrix[0]), norm3(l.Matrix[1]), norm3(l.Matrix[2])
}

// Angles returns alpha, beta and gamma in degrees.
func (l Lattice) Angles() (alpha, beta, gamma float64) {
	m := l.Matrix
	return angle(m[1], m[2]), angle(m[0], m[2]), angle(m[0], m[1])
}

// Volume returns the cell volume in Å^3.
func (l Lattice) Volume() float64 {
	m := l.Matrix
	cross := [3]float64{
		m[1][1]*m[2][2] - m[1][2]*m[2][1],
		m[1][2]*m[2][0] - m[1][0]*m[2][2],
		m[1][0]*m[2][1] - m[1][1]*m[2][0],
	}
	return math.Abs(dot3(m[0], cross))
}

// Site is an atom at fractional coordinates.
type Site struct {
	Element string
	Frac    [3]float64
}

// Structure is a periodic crystal structure.
type Structure struct {
	Lattice Lattice
	Sites   []Site
}

// Composition counts the sites per element.
func (s *Structure) Composition() Composition {
	comp := Composition{}
	for _, site := range s.Sites {
		comp[site.Element]++
	}
	return comp
}

// Density returns the density in g/cm^3.
func (s *Structure) Density() float64 {
	v := s.Lattice.Volume()
	if v == 0 {
		return 0
	}
	return s.Composition().Weight() * amuPerA3ToGPerCm3 / v
}

// LatticeSummary holds the cell parameters.
type LatticeSummary struct {
	A      float64 `json:"a"`
	B      float64 `json:"b"`
	C      float64 `json:"c"`
	Alpha  float64 `json:"alpha"`
	Beta   float64 `json:"beta"`
	Gamma  float64 `json:"gamma"`
	Volume float64 `json:"volume"`
}

// SiteSummary is one site in a StructureSummary.
type SiteSummary struct {
	Element    string     `json:"element"`
	FracCoords [3]float64 `json:"frac_coords"`
}

// StructureSummary is the deterministic description returned by read_cif.
type StructureSummary struct {
	Formula        string         `json:"formula"`
	ReducedFormula string         `json:"reduced_formula"`
	Density        float64        `json:"density"`
	NumSites       int            `json:"num_sites"`
	Lattice        LatticeSummary `json:"lattice"`
	Elements       []string       `json:"elements"`
	Sites          []SiteSummary  `json:"sites"`
}

// Summary describes the structure with sites sorted by element then
// fractional coordinates.
func (s *Structure) Summary() StructureSummary {
	comp := s.Composition()
	a, b, c := s.Lattice.Abc()
	alpha, beta, gamma := s.Lattice.Angles()

	elements := make([]string, 0, len(comp))
	for el := range comp {
		elements = append(elements, el)
	}
	sort.Strings(elements)

	sites := make([]SiteSummary, len(s.Sites))
	for i, site := range s.Sites {
		sites[i] = SiteSummary{Element: site.Element, FracCoords: site.Frac}
	}
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].Element != sites[j].Element {
			return sites[i].Element < sites[j].Element
		}
		for k := 0; k < 3; k++ {
			if sites[i].FracCoords[k] != sites[j].FracCoords[k] {
				return sites[i].FracCoords[k] < sites[j].FracCoords[k]
			}
		}
		return false
	})

	return StructureSummary{
		Formula:        comp.SpacedFormula(),
		ReducedFormula: comp.ReducedFormula(),
		Density:        s.Density(),
		NumSites:       len(s.Sites),
		Lattice: LatticeSummary{
			A: a, B: b, C: c,
			Alpha: alpha, Beta: beta, Gamma: gamma,
			Volume: s.Lattice.Volume(),
		},
		Elements: elements,
		Sites:    sites,
	}
}

// StructureFromMap converts a serialized structure document (lattice matrix
// plus sites with species and fractional "abc" coordinates, as returned by
// the Materials Project API) into a Structure. The majority species of a
// disordered site is used.
func StructureFromMap(doc map[string]any) (*Structure, error) {
	latDoc, ok := doc["lattice"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("structure has no lattice")
	}
	rows, ok := latDoc["matrix"].([]any)
	if !ok || len(rows) != 3 {
		return nil, fmt.Errorf("lattice matrix must have 3 rows")
	}
	var lat Lattice
	for i, r := range rows {
		vals, ok := r.([]any)
		if !ok || len(vals) != 3 {
			return nil, fmt.Errorf("lattice row %d must have 3 values", i)
		}
		for j, v := range vals {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("lattice value [%d][%d] is not a number", i, j)
			}
			lat.Matrix[i][j] = f
		}
	}

	siteDocs, _ := doc["sites"].([]any)
	if len(siteDocs) == 0 {
		return nil, fmt.Errorf("structure has no sites")
	}
	st := &Structure{Lattice: lat}
	for i, raw := range siteDocs {
		sd, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("site %d is not an object", i)
		}
		el := majoritySpecies(sd)
		if el == "" {
			return nil, fmt.Errorf("site %d has no species", i)
		}
		abc, ok := sd["abc"].([]any)
		if !ok || len(abc) != 3 {
			return nil, fmt.Errorf("site %d has no fractional coordinates", i)
		}
		var frac [3]float64
		for k, v := range abc {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("site %d coordinate %d is not a number", i, k)
			}
			frac[k] = f
		}
		st.Sites = append(st.Sites, Site{Element: el, Frac: frac})
	}
	return st, nil
}

func majoritySpecies(site map[string]any) string {
	species, _ := site["species"].([]any)
	best, bestOcc := "", -1.0
	for _, raw := range species {
		sp, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		el, _ := sp["element"].(string)
		occ, ok := sp["occu"].(float64)
		if !ok {
			occ = 1
		}
		if el != "" && occ > bestOcc {
			best, bestOcc = el, occ
		}
	}
	if best == "" {
		label, _ := site["label"].(string)
		best = elementFromLabel(label)
	}
	return best
}
