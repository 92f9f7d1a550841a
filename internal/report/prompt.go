package report

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"text/template"

	"sky/internal/recipes"

	"github.com/adrg/frontmatter"
)

//go:embed prompts/*.md
var promptFS embed.FS

// PromptMatter is the YAML frontmatter of a prompt file.
type PromptMatter struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	System      string  `yaml:"system"`
}

// Prompt is a parsed prompt template.
type Prompt struct {
	PromptMatter
	body *template.Template
}

var promptFuncs = template.FuncMap{
	"inc":       func(i int) int { return i + 1 },
	"paragraph": recipes.Paragraph,
	"counts":    formatCounts,
}

// ParsePrompt reads a prompt file: YAML frontmatter followed by a
// text/template body.
func ParsePrompt(r io.Reader) (*Prompt, error) {
	var matter PromptMatter
	body, err := frontmatter.Parse(r, &matter)
	if err != nil {
		return nil, fmt.Errorf("no valid frontmatter found: %w", err)
	}
	if strings.TrimSpace(matter.System) == "" {
		return nil, fmt.Errorf("prompt frontmatter must set system")
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, fmt.Errorf("prompt body is empty")
	}
	name := matter.Name
	if name == "" {
		name = "prompt"
	}
	tmpl, err := template.New(name).Funcs(promptFuncs).Parse(string(body))
	if err != nil {
		return nil, fmt.Errorf("invalid prompt template: %w", err)
	}
	return &Prompt{PromptMatter: matter, body: tmpl}, nil
}

// LoadPromptFile parses the prompt at path.
func LoadPromptFile(path string) (*Prompt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompt: %w", err)
	}
	defer f.Close()
	return ParsePrompt(f)
}

// DefaultPrompt returns the built-in discovery prompt.
func DefaultPrompt() *Prompt {
	data, err := promptFS.ReadFile("prompts/discover.md")
	if err != nil {
		panic(err)
	}
	p, err := ParsePrompt(bytes.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("built-in prompt: %v", err))
	}
	return p
}

// Render executes the prompt body with data.
func (p *Prompt) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := p.body.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", p.body.Name(), err)
	}
	return buf.String(), nil
}

// formatCounts renders {"air": 2, "argon": 1} as "air (2), argon (1)",
// most frequent first.
func formatCounts(m map[string]int) string {
	keys := slices.Sorted(maps.Keys(m))
	slices.SortStableFunc(keys, func(a, b string) int { return m[b] - m[a] })
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s (%d)", k, m[k])
	}
	return strings.Join(parts, ", ")
}
