package chem

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const siteTol = 1e-4

// ErrEmptyCIF is returned for blank CIF input.
var ErrEmptyCIF = errors.New("CIF text is empty.")

type cifToken struct {
	text   string
	quoted bool
}

func (t cifToken) isTag() bool  { return !t.quoted && strings.HasPrefix(t.text, "_") }
func (t cifToken) isLoop() bool { return !t.quoted && strings.EqualFold(t.text, "loop_") }
func (t cifToken) isData() bool {
	return !t.quoted && len(t.text) >= 5 && strings.EqualFold(t.text[:5], "data_")
}

// tokenizeCIF splits CIF text into whitespace-separated tokens, honouring
// quotes, ';' text fields and '#' comments.
func tokenizeCIF(text string) []cifToken {
	var toks []cifToken
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, ";") {
			var field []string
			field = append(field, line[1:])
			for i++; i < len(lines) && !strings.HasPrefix(lines[i], ";"); i++ {
				field = append(field, lines[i])
			}
			toks = append(toks, cifToken{text: strings.TrimSpace(strings.Join(field, "\n")), quoted: true})
			continue
		}
		toks = append(toks, tokenizeLine(line)...)
	}
	return toks
}

func tokenizeLine(line string) []cifToken {
	var toks []cifToken
	rs := []rune(line)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '#':
			return toks
		case r == '\'' || r == '"':
			// A closing quote must be followed by whitespace or end of line.
			j := i + 1
			for j < len(rs) && !(rs[j] == r && (j+1 == len(rs) || unicode.IsSpace(rs[j+1]))) {
				j++
			}
			toks = append(toks, cifToken{text: string(rs[i+1 : min(j, len(rs))]), quoted: true})
			i = j + 1
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) {
				j++
			}
			toks = append(toks, cifToken{text: string(rs[i:j])})
			i = j
		}
	}
	return toks
}

type cifBlock struct {
	items map[string]string
	loops []cifLoop
}

type cifLoop struct {
	tags []string
	rows [][]string
}

func (l cifLoop) column(tag string) int {
	for i, t := range l.tags {
		if t == tag {
			return i
		}
	}
	return -1
}

func parseCIFBlock(toks []cifToken) (*cifBlock, error) {
	b := &cifBlock{items: map[string]string{}}
	seenData := false
	for i := 0; i < len(toks); {
		t := toks[i]
		switch {
		case t.isData():
			if seenData {
				// Only the first data block is read.
				return b, nil
			}
			seenData = true
			i++
		case t.isLoop():
			i++
			var loop cifLoop
			for i < len(toks) && toks[i].isTag() {
				loop.tags = append(loop.tags, strings.ToLower(toks[i].text))
				i++
			}
			if len(loop.tags) == 0 {
				return nil, fmt.Errorf("loop_ without tags")
			}
			var vals []string
			for i < len(toks) && !toks[i].isTag() && !toks[i].isLoop() && !toks[i].isData() {
				vals = append(vals, toks[i].text)
				i++
			}
			if len(vals)%len(loop.tags) != 0 {
				return nil, fmt.Errorf("loop with %d tags has %d values", len(loop.tags), len(vals))
			}
			for j := 0; j < len(vals); j += len(loop.tags) {
				loop.rows = append(loop.rows, vals[j:j+len(loop.tags)])
			}
			b.loops = append(b.loops, loop)
		case t.isTag():
			if i+1 >= len(toks) {
				return nil, fmt.Errorf("tag %s has no value", t.text)
			}
			b.items[strings.ToLower(t.text)] = toks[i+1].text
			i += 2
		default:
			i++
		}
	}
	return b, nil
}

func (b *cifBlock) loopWith(tags ...string) (cifLoop, string, bool) {
	for _, l := range b.loops {
		for _, tag := range tags {
			if l.column(tag) >= 0 {
				return l, tag, true
			}
		}
	}
	return cifLoop{}, "", false
}

// parseCIFNumber parses a CIF numeric value, dropping a trailing standard
// uncertainty such as "5.4309(2)".
func parseCIFNumber(s string) (float64, error) {
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return v, nil
}

func (b *cifBlock) number(tag string) (float64, error) {
	raw, ok := b.items[tag]
	if !ok {
		return 0, fmt.Errorf("missing %s", tag)
	}
	v, err := parseCIFNumber(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", tag, raw)
	}
	return v, nil
}

// ParseCIF reads the first data block of a CIF file into a Structure. The
// asymmetric unit is expanded with the listed symmetry operations, wrapped
// into the unit cell and deduplicated.
func ParseCIF(text string) (*Structure, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyCIF
	}
	block, err := parseCIFBlock(tokenizeCIF(text))
	if err != nil {
		return nil, err
	}

	var cell [6]float64
	for i, tag := range []string{
		"_cell_length_a", "_cell_length_b", "_cell_length_c",
		"_cell_angle_alpha", "_cell_angle_beta", "_cell_angle_gamma",
	} {
		if cell[i], err = block.number(tag); err != nil {
			return nil, err
		}
	}
	lat, err := LatticeFromParameters(cell[0], cell[1], cell[2], cell[3], cell[4], cell[5])
	if err != nil {
		return nil, err
	}

	ops, err := block.symmetryOps()
	if err != nil {
		return nil, err
	}

	atoms, _, ok := block.loopWith("_atom_site_fract_x")
	if !ok {
		return nil, fmt.Errorf("no _atom_site_fract_x loop found")
	}
	cx, cy, cz := atoms.column("_atom_site_fract_x"), atoms.column("_atom_site_fract_y"), atoms.column("_atom_site_fract_z")
	if cy < 0 || cz < 0 {
		return nil, fmt.Errorf("atom site loop is missing fractional coordinates")
	}
	cType, cLabel := atoms.column("_atom_site_type_symbol"), atoms.column("_atom_site_label")
	if cType < 0 && cLabel < 0 {
		return nil, fmt.Errorf("atom site loop has neither type symbol nor label")
	}

	st := &Structure{Lattice: lat}
	grid := newSiteGrid()
	for n, row := range atoms.rows {
		el := ""
		if cType >= 0 {
			el = elementFromLabel(row[cType])
		}
		if el == "" && cLabel >= 0 {
			el = elementFromLabel(row[cLabel])
		}
		if el == "" {
			return nil, fmt.Errorf("atom site %d: unknown element", n+1)
		}
		var p [3]float64
		for k, c := range []int{cx, cy, cz} {
			if p[k], err = parseCIFNumber(row[c]); err != nil {
				return nil, fmt.Errorf("atom site %d: invalid coordinate %q", n+1, row[c])
			}
		}
		for _, op := range ops {
			grid.add(st, Site{Element: el, Frac: wrapFrac(op.apply(p))})
		}
	}
	if len(st.Sites) == 0 {
		return nil, fmt.Errorf("CIF contains no atom sites")
	}
	return st, nil
}

// siteGrid buckets sites by element and coarse fractional position. Cells
// are at least siteTol wide, so a duplicate is always in the same or an
// adjacent cell.
type siteGrid struct {
	n     int
	cells map[gridKey][]int
}

type gridKey struct {
	el      string
	i, j, k int
}

func newSiteGrid() *siteGrid {
	return &siteGrid{
		n:     max(1, int(math.Floor(1/siteTol))),
		cells: make(map[gridKey][]int),
	}
}

func (g *siteGrid) cell(x float64) int {
	c := int(math.Floor(x * float64(g.n)))
	return ((c % g.n) + g.n) % g.n
}

// add appends site to st unless an equivalent one is already present.
func (g *siteGrid) add(st *Structure, site Site) {
	ci, cj, ck := g.cell(site.Frac[0]), g.cell(site.Frac[1]), g.cell(site.Frac[2])
	for di := -1; di <= 1; di++ {
		for dj := -1; dj <= 1; dj++ {
			for dk := -1; dk <= 1; dk++ {
				key := gridKey{
					el: site.Element,
					i:  (ci + di + g.n) % g.n,
					j:  (cj + dj + g.n) % g.n,
					k:  (ck + dk + g.n) % g.n,
				}
				for _, idx := range g.cells[key] {
					if samePeriodic(st.Sites[idx].Frac, site.Frac) {
						return
					}
				}
			}
		}
	}
	key := gridKey{el: site.Element, i: ci, j: cj, k: ck}
	g.cells[key] = append(g.cells[key], len(st.Sites))
	st.Sites = append(st.Sites, site)
}

func samePeriodic(a, b [3]float64) bool {
	for k := 0; k < 3; k++ {
		d := math.Abs(a[k] - b[k])
		d = math.Min(d, 1-d)
		if d > siteTol {
			return false
		}
	}
	return true
}

func wrapFrac(p [3]float64) [3]float64 {
	for k := range p {
		p[k] -= math.Floor(p[k])
		if p[k] >= 1-1e-9 || math.Abs(p[k]) < 1e-12 {
			p[k] = 0
		}
	}
	return p
}

// elementFromLabel extracts the element symbol from a site label or type
// symbol ("Fe1", "Fe3+", "O2-", "SI").
func elementFromLabel(label string) string {
	var letters []rune
	for _, r := range label {
		if !unicode.IsLetter(r) {
			break
		}
		letters = append(letters, r)
	}
	if len(letters) == 0 {
		return ""
	}
	if len(letters) >= 2 {
		two := strings.ToUpper(string(letters[0])) + strings.ToLower(string(letters[1]))
		if _, ok := LookupElement(two); ok {
			return two
		}
	}
	one := strings.ToUpper(string(letters[0]))
	if _, ok := LookupElement(one); ok {
		return one
	}
	return ""
}

// symOp is an affine map on fractional coordinates.
type symOp struct {
	rot   [3][3]float64
	trans [3]float64
}

func (o symOp) apply(p [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = o.rot[i][0]*p[0] + o.rot[i][1]*p[1] + o.rot[i][2]*p[2] + o.trans[i]
	}
	return out
}

var identityOp = symOp{rot: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}

func (b *cifBlock) symmetryOps() ([]symOp, error) {
	loop, tag, ok := b.loopWith("_symmetry_equiv_pos_as_xyz", "_space_group_symop_operation_xyz")
	if !ok {
		return []symOp{identityOp}, nil
	}
	col := loop.column(tag)
	ops := make([]symOp, 0, len(loop.rows))
	for _, row := range loop.rows {
		op, err := parseSymOp(row[col])
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return []symOp{identityOp}, nil
	}
	return ops, nil
}

// parseSymOp parses an operation such as "-x+1/2, y, -z+0.25".
func parseSymOp(s string) (symOp, error) {
	parts := strings.Split(strings.ReplaceAll(strings.ToLower(s), " ", ""), ",")
	if len(parts) != 3 {
		return symOp{}, fmt.Errorf("invalid symmetry operation %q", s)
	}
	var op symOp
	for i, expr := range parts {
		if expr == "" {
			return symOp{}, fmt.Errorf("invalid symmetry operation %q", s)
		}
		for _, term := range splitTerms(expr) {
			sign := 1.0
			switch term[0] {
			case '-':
				sign, term = -1, term[1:]
			case '+':
				term = term[1:]
			}
			if term == "" {
				return symOp{}, fmt.Errorf("invalid symmetry operation %q", s)
			}
			if axis := strings.IndexAny(term, "xyz"); axis >= 0 {
				coef := 1.0
				if prefix := strings.TrimSuffix(term[:axis], "*"); prefix != "" {
					v, err := parseFraction(prefix)
					if err != nil {
						return symOp{}, fmt.Errorf("invalid symmetry operation %q", s)
					}
					coef = v
				}
				op.rot[i][term[axis]-'x'] += sign * coef
				continue
			}
			v, err := parseFraction(term)
			if err != nil {
				return symOp{}, fmt.Errorf("invalid symmetry operation %q", s)
			}
			op.trans[i] += sign * v
		}
	}
	return op, nil
}

func splitTerms(expr string) []string {
	var terms []string
	start := 0
	for i := 1; i < len(expr); i++ {
		if expr[i] == '+' || expr[i] == '-' {
			terms = append(terms, expr[start:i])
			start = i
		}
	}
	return append(terms, expr[start:])
}

func parseFraction(s string) (float64, error) {
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, err
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0, fmt.Errorf("invalid fraction %q", s)
		}
		return n / d, nil
	}
	return strconv.ParseFloat(s, 64)
}
