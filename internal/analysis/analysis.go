// Package analysis extracts synthesis conditions from free-text recipe
// descriptions with keyword and pattern matching.
package analysis

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// ErrEmptyText is returned for blank input.
var ErrEmptyText = errors.New("text is required.")

// Parameters are the conditions found in a text.
type Parameters struct {
	Temperatures []string `json:"temperatures_C"`
	Durations    []string `json:"time_durations"`
	Methods      []string `json:"synthesis_methods"`
	Atmospheres  []string `json:"atmosphere"`
	HasHeating   bool     `json:"has_heating"`
	TextLength   int      `json:"text_length"`
}

var temperaturePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+)\s*°C`),
	regexp.MustCompile(`(?i)(\d+)\s*K`),
	regexp.MustCompile(`(?i)(\d+)\s*degrees?\s*C`),
	regexp.MustCompile(`(?i)(\d+)\s*celsius`),
}

var durationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+)\s*hours?`),
	regexp.MustCompile(`(?i)(\d+)\s*h\b`),
	regexp.MustCompile(`(?i)(\d+)\s*minutes?`),
	regexp.MustCompile(`(?i)(\d+)\s*min\b`),
	regexp.MustCompile(`(?i)(\d+)\s*days?`),
}

// methodKeywords maps a synthesis route to the phrases that indicate it.
var methodKeywords = map[string][]string{
	"solid_state":   {"solid state", "ceramic", "calcination", "sintering"},
	"sol_gel":       {"sol-gel", "sol gel", "gelation", "xerogel"},
	"hydrothermal":  {"hydrothermal", "solvothermal", "autoclave"},
	"precipitation": {"precipitation", "coprecipitation", "co-precipitation"},
	"cvd":           {"cvd", "chemical vapor", "vapor deposition"},
	"combustion":    {"combustion", "self-propagating", "shs"},
	"flux":          {"flux", "molten salt", "flux growth"},
}

var atmosphereKeywords = []string{"air", "argon", "nitrogen", "n2", "ar", "oxygen", "o2", "vacuum", "inert"}

// Analyze extracts temperatures, durations, methods and atmospheres from
// text. Every list is a sorted set.
func Analyze(text string) (*Parameters, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	temps := captures(text, temperaturePatterns)
	lower := strings.ToLower(text)

	var methods []string
	for method, keywords := range methodKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				methods = append(methods, method)
				break
			}
		}
	}

	var atmospheres []string
	for _, kw := range atmosphereKeywords {
		if strings.Contains(lower, kw) {
			atmospheres = append(atmospheres, kw)
		}
	}

	return &Parameters{
		Temperatures: sortedSet(temps),
		Durations:    sortedSet(captures(text, durationPatterns)),
		Methods:      sortedSet(methods),
		Atmospheres:  sortedSet(atmospheres),
		HasHeating:   len(temps) > 0,
		TextLength:   len([]rune(text)),
	}, nil
}

func captures(text string, patterns []*regexp.Regexp) []string {
	var out []string
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			out = append(out, m[1])
		}
	}
	return out
}

// sortedSet de-duplicates and sorts values. The result is never nil.
func sortedSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Aggregate merges the parameters of several texts, e.g. all recipes found
// for a material. Counts record how many texts mention each value.
type Aggregate struct {
	Texts        int            `json:"texts_analyzed"`
	Temperatures map[string]int `json:"temperatures_C"`
	Durations    map[string]int `json:"time_durations"`
	Methods      map[string]int `json:"synthesis_methods"`
	Atmospheres  map[string]int `json:"atmosphere"`
}

// NewAggregate returns an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{
		Temperatures: map[string]int{},
		Durations:    map[string]int{},
		Methods:      map[string]int{},
		Atmospheres:  map[string]int{},
	}
}

// Add analyzes text and merges its parameters. Blank text is ignored.
func (a *Aggregate) Add(text string) {
	p, err := Analyze(text)
	if err != nil {
		return
	}
	a.Texts++
	for _, v := range p.Temperatures {
		a.Temperatures[v]++
	}
	for _, v := range p.Durations {
		a.Durations[v]++
	}
	for _, v := range p.Methods {
		a.Methods[v]++
	}
	for _, v := range p.Atmospheres {
		a.Atmospheres[v]++
	}
}

// TopMethod returns the most frequently mentioned method, ties broken by
// name, or "" if none was found.
func (a *Aggregate) TopMethod() string {
	best, bestN := "", 0
	for m, n := range a.Methods {
		if n > bestN || (n == bestN && m < best) {
			best, bestN = m, n
		}
	}
	return best
}
