package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/ashureev/lessonroute/internal/chain"
	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/lesson"
	"github.com/ashureev/lessonroute/internal/persona"
	"github.com/ashureev/lessonroute/internal/routing"
	"gopkg.in/yaml.v3"
)

//go:embed engine.yaml
var defaultEngineYAML []byte

// EngineFile is the on-disk shape of the engine configuration.
type EngineFile struct {
	Personas []PersonaSpec `yaml:"personas"`
	Weights  struct {
		Primary   float64 `yaml:"primary"`
		Secondary float64 `yaml:"secondary"`
	} `yaml:"weights"`
	Rules   []routing.Rule `yaml:"rules"`
	Routing routing.Params `yaml:"routing"`
	Lesson  lesson.Params  `yaml:"lesson"`
	Chain   chain.Options  `yaml:"chain"`
}

// PersonaSpec declares a persona. Keywords carry explicit weights; primary and
// secondary lists are shorthands weighted by the file-level weights.
type PersonaSpec struct {
	ID            domain.Persona    `yaml:"id"`
	Role          string            `yaml:"role"`
	ResponseStyle string            `yaml:"response_style"`
	QueryPath     string            `yaml:"query_path"`
	Priority      int               `yaml:"priority"`
	Primary       []string          `yaml:"primary"`
	Secondary     []string          `yaml:"secondary"`
	Keywords      []persona.Keyword `yaml:"keywords"`
}

// Engine is the validated, immutable engine configuration.
type Engine struct {
	Registry *persona.Registry
	Rules    *routing.RuleTable
	Routing  routing.Params
	Lesson   lesson.Params
	Chain    chain.Options
}

// LoadEngine reads the engine configuration from path, or the embedded default when
// path is empty. Every failure is a ConfigurationError.
func LoadEngine(path string) (*Engine, error) {
	data := defaultEngineYAML
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &domain.ConfigurationError{Component: "engine config", Detail: err.Error()}
		}
		data = raw
	}
	return ParseEngine(data)
}

// ParseEngine decodes and validates an engine configuration document.
// Sections missing from the document keep their defaults.
func ParseEngine(data []byte) (*Engine, error) {
	file := EngineFile{
		Routing: routing.DefaultParams(),
		Lesson:  lesson.DefaultParams(),
		Chain:   chain.DefaultOptions(),
	}
	// An unset start persona falls back to the first registered persona.
	file.Lesson.StartPersona = ""
	file.Weights.Primary = 1.0
	file.Weights.Secondary = 0.5

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &domain.ConfigurationError{Component: "engine config", Detail: fmt.Sprintf("decode yaml: %v", err)}
	}

	profiles := make([]persona.Profile, 0, len(file.Personas))
	for _, spec := range file.Personas {
		vocab := make([]persona.Keyword, 0, len(spec.Primary)+len(spec.Secondary)+len(spec.Keywords))
		for _, term := range spec.Primary {
			vocab = append(vocab, persona.Keyword{Term: term, Weight: file.Weights.Primary})
		}
		for _, term := range spec.Secondary {
			vocab = append(vocab, persona.Keyword{Term: term, Weight: file.Weights.Secondary})
		}
		vocab = append(vocab, spec.Keywords...)
		profiles = append(profiles, persona.Profile{
			ID:            spec.ID,
			Role:          spec.Role,
			ResponseStyle: spec.ResponseStyle,
			QueryPath:     spec.QueryPath,
			Priority:      spec.Priority,
			Vocabulary:    vocab,
		})
	}

	reg, err := persona.NewRegistry(profiles)
	if err != nil {
		return nil, err
	}
	table, err := routing.NewRuleTable(reg, file.Rules)
	if err != nil {
		return nil, err
	}
	if err := file.Routing.Validate(); err != nil {
		return nil, err
	}
	if err := file.Routing.CheckRules(table); err != nil {
		return nil, err
	}
	if file.Lesson.StartPersona == "" {
		file.Lesson.StartPersona = reg.IDs()[0]
	}
	if !reg.Has(file.Lesson.StartPersona) {
		return nil, &domain.ConfigurationError{Component: "lesson", Detail: fmt.Sprintf("start_persona %q is not registered", file.Lesson.StartPersona)}
	}
	if err := file.Lesson.Validate(); err != nil {
		return nil, err
	}
	if file.Chain.HistoryView <= 0 || file.Chain.HandoffHistory <= 0 {
		return nil, &domain.ConfigurationError{Component: "chain", Detail: "history_view and handoff_history must be > 0"}
	}

	return &Engine{
		Registry: reg,
		Rules:    table,
		Routing:  file.Routing,
		Lesson:   file.Lesson,
		Chain:    file.Chain,
	}, nil
}
