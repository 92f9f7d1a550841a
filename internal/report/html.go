package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"sky/internal/chem"
	"sky/internal/version"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var (
	pageTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))
	markdown     = goldmark.New(goldmark.WithExtensions(extension.GFM))

	now = time.Now
)

type page struct {
	Title       string
	FormulaHTML template.HTML
	Generated   string
	Version     string
	Body        template.HTML
}

// RenderHTML converts a Markdown analysis into a standalone HTML page about
// formula. Raw HTML in the analysis is dropped.
func RenderHTML(analysisText, formula string) (string, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(analysisText), &body); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	var out bytes.Buffer
	err := pageTemplate.Execute(&out, page{
		Title:       formula,
		FormulaHTML: template.HTML(chem.SubscriptHTML(formula)),
		Generated:   now().UTC().Format("2006-01-02 15:04 MST"),
		Version:     version.Get().Version,
		Body:        template.HTML(body.String()),
	})
	if err != nil {
		return "", fmt.Errorf("render report page: %w", err)
	}
	return out.String(), nil
}
