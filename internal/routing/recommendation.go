package routing

import (
	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/persona"
)

// Recommendation is either a Transition or a Stay. Callers switch on the concrete type.
type Recommendation interface {
	Record() Record
	isRecommendation()
}

// Record is the flat view of a recommendation handed to collaborators.
type Record struct {
	ShouldTransition   bool            `json:"should_transition"`
	RecommendedPersona *domain.Persona `json:"recommended_persona"`
	Confidence         float64         `json:"confidence"`
	Reason             string          `json:"reason"`
}

// Transition recommends handing the conversation to another persona.
type Transition struct {
	From       domain.Persona         `json:"from"`
	To         domain.Persona         `json:"to"`
	Confidence float64                `json:"confidence"`
	Penalty    float64                `json:"penalty,omitempty"`
	Matched    []string               `json:"matched"`
	Reason     string                 `json:"reason"`
	Approach   string                 `json:"approach,omitempty"`
	Scores     []persona.PersonaScore `json:"scores"`
}

// Stay means no rule fired strongly enough; the current persona keeps the conversation.
type Stay struct {
	Current     domain.Persona         `json:"current"`
	BestMatches int                    `json:"best_matches"`
	Reason      string                 `json:"reason"`
	Scores      []persona.PersonaScore `json:"scores"`
}

func (Transition) isRecommendation() {}
func (Stay) isRecommendation()       {}

// Record implements Recommendation.
func (t Transition) Record() Record {
	to := t.To
	return Record{ShouldTransition: true, RecommendedPersona: &to, Confidence: t.Confidence, Reason: t.Reason}
}

// Record implements Recommendation. Staying is reported with full confidence.
func (s Stay) Record() Record {
	return Record{ShouldTransition: false, Confidence: 1, Reason: s.Reason}
}
