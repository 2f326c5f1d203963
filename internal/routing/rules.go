// Package routing turns keyword matches and chain context into persona transition recommendations.
package routing

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/persona"
)

// Rule is one declared transition from a source persona to a target persona.
type Rule struct {
	From           domain.Persona `json:"from" yaml:"from"`
	To             domain.Persona `json:"to" yaml:"to"`
	Triggers       []string       `json:"triggers" yaml:"triggers"`
	BaseConfidence float64        `json:"base_confidence" yaml:"base_confidence"`
	Rationale      string         `json:"rationale" yaml:"rationale"`
	Approach       string         `json:"approach" yaml:"approach"`
}

// RationaleData is passed to a rule's rationale template.
type RationaleData struct {
	From       domain.Persona
	To         domain.Persona
	Matched    []string
	Confidence float64
}

const defaultRationale = `Detected {{.To}} triggers: {{join .Matched ", "}}`

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

type compiledRule struct {
	Rule
	tmpl *template.Template
}

// RuleTable is the validated, ordered set of transition rules.
type RuleTable struct {
	rules    []compiledRule
	bySource map[domain.Persona][]int
}

// NewRuleTable validates rules against the registry. Every ordered pair of distinct
// personas must be covered by at least one rule.
func NewRuleTable(reg *persona.Registry, rules []Rule) (*RuleTable, error) {
	t := &RuleTable{bySource: make(map[domain.Persona][]int)}
	covered := make(map[[2]domain.Persona]bool)

	for i, r := range rules {
		if !reg.Has(r.From) || !reg.Has(r.To) {
			return nil, ruleErr(i, r, "references an unknown persona")
		}
		if r.From == r.To {
			return nil, ruleErr(i, r, "source and target must differ")
		}
		if len(r.Triggers) == 0 {
			return nil, ruleErr(i, r, "has no trigger keywords")
		}
		if r.BaseConfidence < 0 || r.BaseConfidence > 1 {
			return nil, ruleErr(i, r, fmt.Sprintf("base confidence %.2f outside [0, 1]", r.BaseConfidence))
		}
		src := r.Rationale
		if strings.TrimSpace(src) == "" {
			src = defaultRationale
		}
		tmpl, err := template.New(fmt.Sprintf("rule-%d", i)).Funcs(templateFuncs).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, ruleErr(i, r, fmt.Sprintf("bad rationale template: %v", err))
		}
		t.rules = append(t.rules, compiledRule{Rule: r, tmpl: tmpl})
		t.bySource[r.From] = append(t.bySource[r.From], len(t.rules)-1)
		covered[[2]domain.Persona{r.From, r.To}] = true
	}

	ids := reg.IDs()
	for _, a := range ids {
		for _, b := range ids {
			if a != b && !covered[[2]domain.Persona{a, b}] {
				return nil, &domain.ConfigurationError{
					Component: "rules",
					Detail:    fmt.Sprintf("no transition rule from %s to %s", a, b),
				}
			}
		}
	}
	return t, nil
}

// Outgoing returns the rules whose source is from, in declaration order.
func (t *RuleTable) Outgoing(from domain.Persona) []Rule {
	idx := t.bySource[from]
	out := make([]Rule, len(idx))
	for i, j := range idx {
		out[i] = t.rules[j].Rule
	}
	return out
}

// Rules returns every rule in declaration order.
func (t *RuleTable) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.Rule
	}
	return out
}

func (t *RuleTable) render(i int, data RationaleData) (string, error) {
	var b strings.Builder
	if err := t.rules[i].tmpl.Execute(&b, data); err != nil {
		return "", &domain.ConfigurationError{Component: "rules", Detail: fmt.Sprintf("render rationale %s->%s: %v", data.From, data.To, err)}
	}
	return b.String(), nil
}

func ruleErr(i int, r Rule, detail string) error {
	return &domain.ConfigurationError{
		Component: "rules",
		Detail:    fmt.Sprintf("rule #%d (%s->%s) %s", i, r.From, r.To, detail),
	}
}
