package agent

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/ashureev/lessonroute/internal/domain"
)

// TemplateGenerator renders canned persona replies. It stands in for a model-backed
// generator when none is deployed.
type TemplateGenerator struct {
	templates map[domain.Persona]*template.Template
	fallback  *template.Template
}

const fallbackReply = `[{{.Profile.Role}}] Let us stay with "{{.Utterance}}" a little longer.`

var defaultReplies = map[domain.Persona]string{
	domain.PersonaTree: `{{if .Handoff}}{{.Handoff.Approach}}. {{end}}Let us look at the idea behind "{{.Utterance}}".` +
		`{{with .Memories}} Earlier you asked: "{{(index . 0).Text}}".{{end}}`,
	domain.PersonaSeed: `{{if .Handoff}}{{.Handoff.Approach}}. {{end}}Here is a small step you can practice today for "{{.Utterance}}".`,
	domain.PersonaSky:  `{{if .Handoff}}{{.Handoff.Approach}}. {{end}}Sit quietly with "{{.Utterance}}". What does it stir in you?`,
}

// NewTemplateGenerator parses the built-in replies plus any overrides keyed by persona.
func NewTemplateGenerator(overrides map[domain.Persona]string) (*TemplateGenerator, error) {
	g := &TemplateGenerator{templates: make(map[domain.Persona]*template.Template)}
	var err error
	if g.fallback, err = template.New("fallback").Parse(fallbackReply); err != nil {
		return nil, err
	}
	sources := make(map[domain.Persona]string, len(defaultReplies)+len(overrides))
	for p, src := range defaultReplies {
		sources[p] = src
	}
	for p, src := range overrides {
		sources[p] = src
	}
	for p, src := range sources {
		t, err := template.New(string(p)).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, &domain.ConfigurationError{Component: "generator", Detail: fmt.Sprintf("template for %s: %v", p, err)}
		}
		g.templates[p] = t
	}
	return g, nil
}

// Generate implements Generator.
func (g *TemplateGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t, ok := g.templates[req.Profile.ID]
	if !ok {
		t = g.fallback
	}
	var b strings.Builder
	if err := t.Execute(&b, req); err != nil {
		return "", fmt.Errorf("render reply for %s: %w", req.Profile.ID, err)
	}
	return b.String(), nil
}
