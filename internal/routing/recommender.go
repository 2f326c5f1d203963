package routing

import (
	"fmt"
	"math"

	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/persona"
)

// Params are the tunable constants of the recommender.
type Params struct {
	MinMatches         int     `yaml:"min_matches"`
	BonusPerExtraMatch float64 `yaml:"bonus_per_extra_match"`
	DiversityPenalty   float64 `yaml:"diversity_penalty"`
	DiversityWindow    int     `yaml:"diversity_window"`
}

// DefaultParams returns the starting constants.
func DefaultParams() Params {
	return Params{
		MinMatches:         1,
		BonusPerExtraMatch: 0.05,
		DiversityPenalty:   0.15,
		DiversityWindow:    3,
	}
}

// Validate rejects constants that would make confidence meaningless.
func (p Params) Validate() error {
	switch {
	case p.MinMatches < 1:
		return &domain.ConfigurationError{Component: "routing", Detail: "min_matches must be >= 1"}
	case p.BonusPerExtraMatch < 0 || p.BonusPerExtraMatch > 1:
		return &domain.ConfigurationError{Component: "routing", Detail: "bonus_per_extra_match must be within [0, 1]"}
	case p.DiversityPenalty < 0 || p.DiversityPenalty > 1:
		return &domain.ConfigurationError{Component: "routing", Detail: "diversity_penalty must be within [0, 1]"}
	case p.DiversityWindow < 1:
		return &domain.ConfigurationError{Component: "routing", Detail: "diversity_window must be >= 1"}
	}
	return nil
}

// CheckRules rejects rules whose base confidence is below the diversity penalty,
// so that a penalized confidence always stays exactly one penalty below its
// unpenalized value.
func (p Params) CheckRules(t *RuleTable) error {
	for i, r := range t.rules {
		if r.BaseConfidence < p.DiversityPenalty {
			return ruleErr(i, r.Rule, fmt.Sprintf("base confidence %.2f below diversity penalty %.2f", r.BaseConfidence, p.DiversityPenalty))
		}
	}
	return nil
}

// Recommender combines keyword scores, the rule table and chain context.
// It never mutates the context it is given.
type Recommender struct {
	registry *persona.Registry
	table    *RuleTable
	params   Params
}

// NewRecommender builds a recommender over a validated registry and rule table.
func NewRecommender(reg *persona.Registry, table *RuleTable, params Params) (*Recommender, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := params.CheckRules(table); err != nil {
		return nil, err
	}
	return &Recommender{registry: reg, table: table, params: params}, nil
}

// Params returns the constants in use.
func (r *Recommender) Params() Params { return r.params }

// Recommend decides whether the conversation should move away from current.
// chain may be nil for a learner with no recorded history.
func (r *Recommender) Recommend(current domain.Persona, utterance string, chain *domain.ChainContext) (Recommendation, error) {
	if !r.registry.Has(current) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPersona, current)
	}
	outgoing := r.table.bySource[current]
	if len(outgoing) == 0 {
		return nil, &domain.ConfigurationError{Component: "rules", Detail: fmt.Sprintf("persona %s has no outgoing rules", current)}
	}

	m := persona.NewMatcher(utterance)
	scores := r.registry.ScoreAll(m)

	best := -1
	var bestMatched []string
	for _, i := range outgoing {
		matched := m.Matched(r.table.rules[i].Triggers)
		// strict comparison keeps the first declared rule on ties.
		if best == -1 || len(matched) > len(bestMatched) {
			best, bestMatched = i, matched
		}
	}

	if len(bestMatched) < r.params.MinMatches {
		reason := fmt.Sprintf("No strong transition signals detected (best rule %s->%s matched %d, need %d)",
			current, r.table.rules[best].To, len(bestMatched), r.params.MinMatches)
		if m.Empty() {
			reason = "Empty utterance; staying with current persona"
		}
		return Stay{Current: current, BestMatches: len(bestMatched), Reason: reason, Scores: scores}, nil
	}

	rule := r.table.rules[best]
	confidence := clamp01(rule.BaseConfidence + r.params.BonusPerExtraMatch*float64(len(bestMatched)-1))

	var penalty float64
	if chain != nil {
		if dominant, ok := DominantPersona(chain.History, r.params.DiversityWindow); ok && dominant == rule.To {
			penalty = r.params.DiversityPenalty
			confidence = clamp01(confidence - penalty)
		}
	}

	reason, err := r.table.render(best, RationaleData{From: current, To: rule.To, Matched: bestMatched, Confidence: confidence})
	if err != nil {
		return nil, err
	}

	return Transition{
		From:       current,
		To:         rule.To,
		Confidence: confidence,
		Penalty:    penalty,
		Matched:    bestMatched,
		Reason:     reason,
		Approach:   rule.Approach,
		Scores:     scores,
	}, nil
}

// DominantPersona returns the persona used strictly most often in the last window
// history entries. A history shorter than window has no dominant persona.
func DominantPersona(history []domain.HistoryEntry, window int) (domain.Persona, bool) {
	if window <= 0 || len(history) < window {
		return "", false
	}
	counts := make(map[domain.Persona]int, window)
	for _, h := range history[len(history)-window:] {
		counts[h.Persona]++
	}
	var top domain.Persona
	topCount, tied := 0, false
	for p, c := range counts {
		switch {
		case c > topCount:
			top, topCount, tied = p, c, false
		case c == topCount:
			tied = true
		}
	}
	if tied {
		return "", false
	}
	return top, true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
