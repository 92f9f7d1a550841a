// Package chem parses chemical formulas and CIF crystal structures.
//
// It covers what the agent needs to match recipes and build query vectors:
// compositions with reduced formulas, and fractional-coordinate structures
// with a descriptive summary. It is not a general crystallography toolkit.
package chem

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const amountTol = 1e-6

// ErrEmptyFormula is returned when a formula string has no content.
var ErrEmptyFormula = errors.New("formula is empty")

// Composition maps element symbols to (possibly fractional) amounts.
type Composition map[string]float64

// ParseFormula parses a formula such as "Fe2O3", "Ca(OH)2", "CuSO4·5H2O",
// "Li0.5CoO2" or "Fe₂O₃". Hydrate parts may be joined with "·", "*" or a
// "." that is not a decimal point.
func ParseFormula(formula string) (Composition, error) {
	s := strings.TrimSpace(norm.NFKC.String(formula))
	if s == "" {
		return nil, ErrEmptyFormula
	}

	comp := Composition{}
	for _, part := range splitHydrate(s) {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("invalid formula %q: empty component", formula)
		}
		mult, rest := leadingNumber(part)
		if rest == "" {
			return nil, fmt.Errorf("invalid formula %q: component %q has no elements", formula, part)
		}
		p := &formulaParser{s: rest}
		sub, err := p.parseGroup(0)
		if err != nil {
			return nil, fmt.Errorf("invalid formula %q: %w", formula, err)
		}
		if p.pos != len(p.s) {
			return nil, fmt.Errorf("invalid formula %q: unexpected %q", formula, p.s[p.pos:])
		}
		for el, n := range sub {
			comp[el] += n * mult
		}
	}

	for el, n := range comp {
		if n <= amountTol {
			delete(comp, el)
		}
	}
	if len(comp) == 0 {
		return nil, fmt.Errorf("invalid formula %q: no elements", formula)
	}
	return comp, nil
}

// splitHydrate splits on "·", "*" and any "." not sitting between two digits.
func splitHydrate(s string) []string {
	rs := []rune(s)
	var parts []string
	start := 0
	for i, r := range rs {
		sep := r == '·' || r == '*' || r == '•'
		if r == '.' {
			decimal := i > 0 && i+1 < len(rs) && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1])
			sep = !decimal
		}
		if sep {
			parts = append(parts, string(rs[start:i]))
			start = i + 1
		}
	}
	return append(parts, string(rs[start:]))
}

// leadingNumber strips a leading multiplier ("5H2O" → 5, "H2O").
func leadingNumber(s string) (float64, string) {
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	if i == 0 {
		return 1, s
	}
	n, err := strconv.ParseFloat(s[:i], 64)
	if err != nil || n <= 0 {
		return 1, s
	}
	return n, s[i:]
}

type formulaParser struct {
	s   string
	pos int
}

var closing = map[byte]byte{'(': ')', '[': ']', '{': '}'}

func (p *formulaParser) parseGroup(depth int) (Composition, error) {
	if depth > 16 {
		return nil, errors.New("parentheses nested too deeply")
	}
	comp := Composition{}
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch {
		case c == '(' || c == '[' || c == '{':
			open := c
			p.pos++
			inner, err := p.parseGroup(depth + 1)
			if err != nil {
				return nil, err
			}
			if p.pos >= len(p.s) || p.s[p.pos] != closing[open] {
				return nil, fmt.Errorf("unbalanced %q", string(open))
			}
			p.pos++
			n := p.number()
			for el, amt := range inner {
				comp[el] += amt * n
			}
		case c == ')' || c == ']' || c == '}':
			if depth == 0 {
				return nil, fmt.Errorf("unbalanced %q", string(c))
			}
			return comp, nil
		case c >= 'A' && c <= 'Z':
			start := p.pos
			p.pos++
			for p.pos < len(p.s) && p.s[p.pos] >= 'a' && p.s[p.pos] <= 'z' {
				p.pos++
			}
			sym := p.s[start:p.pos]
			if _, ok := LookupElement(sym); !ok {
				return nil, fmt.Errorf("unknown element %q", sym)
			}
			comp[sym] += p.number()
		case c == ' ':
			p.pos++
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	return comp, nil
}

// number reads an optional amount, defaulting to 1.
func (p *formulaParser) number() float64 {
	start := p.pos
	for p.pos < len(p.s) && (p.s[p.pos] >= '0' && p.s[p.pos] <= '9' || p.s[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 1
	}
	n, err := strconv.ParseFloat(p.s[start:p.pos], 64)
	if err != nil {
		p.pos = start
		return 1
	}
	return n
}

// Elements returns the element symbols ordered by electronegativity, then
// symbol.
func (c Composition) Elements() []string {
	els := make([]string, 0, len(c))
	for el := range c {
		els = append(els, el)
	}
	sort.Slice(els, func(i, j int) bool {
		xi, xj := electronegativityOf(els[i]), electronegativityOf(els[j])
		if xi != xj {
			return xi < xj
		}
		return els[i] < els[j]
	})
	return els
}

// NumAtoms is the total number of atoms in the formula unit.
func (c Composition) NumAtoms() float64 {
	var n float64
	for _, amt := range c {
		n += amt
	}
	return n
}

// Weight is the molar mass in g/mol.
func (c Composition) Weight() float64 {
	var w float64
	for el, amt := range c {
		e, _ := LookupElement(el)
		w += e.Mass * amt
	}
	return w
}

// Formula renders the composition as written, e.g. "Fe4O6".
func (c Composition) Formula() string {
	return c.render(1)
}

// SpacedFormula lists every element with its amount, ones included,
// separated by spaces: "Na4 Cl4", "Cs1 Cl1".
func (c Composition) SpacedFormula() string {
	parts := make([]string, 0, len(c))
	for _, el := range c.Elements() {
		parts = append(parts, el+formatAmount(c[el]))
	}
	return strings.Join(parts, " ")
}

// ReducedFormula divides integer amounts by their greatest common divisor:
// "Fe4O6" → "Fe2O3". Compositions with fractional amounts are rendered as is.
func (c Composition) ReducedFormula() string {
	return c.render(c.reductionFactor())
}

// ReducedComposition returns the composition divided by its reduction factor.
func (c Composition) ReducedComposition() Composition {
	f := c.reductionFactor()
	out := make(Composition, len(c))
	for el, amt := range c {
		out[el] = amt / f
	}
	return out
}

func (c Composition) reductionFactor() float64 {
	g := 0
	for _, amt := range c {
		r := math.Round(amt)
		if math.Abs(amt-r) > amountTol || r < 1 {
			return 1
		}
		g = gcd(g, int(r))
	}
	if g < 1 {
		return 1
	}
	return float64(g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func (c Composition) render(factor float64) string {
	var b strings.Builder
	for _, el := range c.Elements() {
		b.WriteString(el)
		amt := c[el] / factor
		if math.Abs(amt-1) > amountTol {
			b.WriteString(formatAmount(amt))
		}
	}
	return b.String()
}

func formatAmount(amt float64) string {
	if r := math.Round(amt); math.Abs(amt-r) < amountTol {
		return strconv.FormatInt(int64(r), 10)
	}
	return strconv.FormatFloat(amt, 'f', -1, 64)
}

// ElementFractions returns the atomic fraction of each element.
func (c Composition) ElementFractions() map[string]float64 {
	total := c.NumAtoms()
	out := make(map[string]float64, len(c))
	if total == 0 {
		return out
	}
	for el, amt := range c {
		out[el] = amt / total
	}
	return out
}

// FractionVector returns element fractions indexed by atomic number - 1.
func (c Composition) FractionVector() []float64 {
	vec := make([]float64, NumElements)
	for el, frac := range c.ElementFractions() {
		e, _ := LookupElement(el)
		vec[e.Z-1] = frac
	}
	return vec
}

// ReducedFormula parses formula and returns its reduced form.
func ReducedFormula(formula string) (string, error) {
	comp, err := ParseFormula(formula)
	if err != nil {
		return "", err
	}
	return comp.ReducedFormula(), nil
}

// SubscriptHTML renders digits of a formula as HTML subscripts:
// "Fe2O3" → "Fe<sub>2</sub>O<sub>3</sub>".
func SubscriptHTML(formula string) string {
	var b strings.Builder
	inSub := false
	for _, r := range formula {
		digit := unicode.IsDigit(r) || (r == '.' && inSub)
		if digit && !inSub {
			b.WriteString("<sub>")
			inSub = true
		} else if !digit && inSub {
			b.WriteString("</sub>")
			inSub = false
		}
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	if inSub {
		b.WriteString("</sub>")
	}
	return b.String()
}

// FindFormula returns the first word of text that reads as a chemical formula.
// Words must carry a digit or name at least two elements, so ordinary words
// like "I" or "He" are not mistaken for formulas.
func FindFormula(text string) (string, bool) {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("()[].·*", r))
	})
	for _, w := range words {
		w = strings.Trim(w, ".*")
		if w == "" || !unicode.IsUpper([]rune(w)[0]) {
			continue
		}
		comp, err := ParseFormula(w)
		if err != nil {
			continue
		}
		if len(comp) < 2 && !strings.ContainsAny(w, "0123456789") {
			continue
		}
		return w, true
	}
	return "", false
}
