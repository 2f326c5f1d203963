// Package lesson implements the lesson lifecycle state machine.
//
//	not_started -> in_progress -> completed | mastered
//
// Interactions are recorded only while in_progress. Reset returns any state to not_started.
package lesson

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ashureev/lessonroute/internal/domain"
)

// QualityIndicator is the mastery indicator holding the decayed interaction quality.
const QualityIndicator = "interaction_quality"

// Params are the state machine constants.
type Params struct {
	MasteryThreshold float64 `yaml:"mastery_threshold"`
	// QualityDecay is the weight given to the newest quality score in the running average.
	QualityDecay float64 `yaml:"quality_decay"`
	// StartPersona opens a lesson for learners with no preference and no history.
	StartPersona domain.Persona `yaml:"start_persona"`
}

// DefaultParams returns the default thresholds. Beginners start with practice.
func DefaultParams() Params {
	return Params{MasteryThreshold: 0.8, QualityDecay: 0.5, StartPersona: domain.PersonaSeed}
}

// Validate checks both constants are within [0, 1] and decay is non-zero.
func (p Params) Validate() error {
	if p.MasteryThreshold < 0 || p.MasteryThreshold > 1 {
		return &domain.ConfigurationError{Component: "lesson", Detail: "mastery_threshold must be within [0, 1]"}
	}
	if p.QualityDecay <= 0 || p.QualityDecay > 1 {
		return &domain.ConfigurationError{Component: "lesson", Detail: "quality_decay must be within (0, 1]"}
	}
	if p.StartPersona == "" {
		return &domain.ConfigurationError{Component: "lesson", Detail: "start_persona is required"}
	}
	return nil
}

// StartPersona picks the persona that opens a lesson attempt: the learner's
// preference when set, then the persona that last spoke on the chain, then fallback.
func StartPersona(preferred, last, fallback domain.Persona) domain.Persona {
	switch {
	case preferred != "":
		return preferred
	case last != "":
		return last
	default:
		return fallback
	}
}

// Machine applies lifecycle transitions to LessonProgress records in place.
// Callers stage changes on a clone when they need all-or-nothing semantics.
type Machine struct {
	params Params
	now    func() time.Time
}

// NewMachine validates params and returns a machine on the wall clock.
func NewMachine(params Params) (*Machine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Machine{params: params, now: time.Now}, nil
}

// WithClock returns a copy of m that reads time from now.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	cp := *m
	cp.now = now
	return &cp
}

// Params returns the constants in use.
func (m *Machine) Params() Params { return m.params }

// Start moves not_started to in_progress. Any other state fails with AlreadyStartedError
// unless restart is set; a restart clears the interaction log but keeps quiz history.
func (m *Machine) Start(p *domain.LessonProgress, restart bool) error {
	if p.State != domain.LessonNotStarted {
		if !restart {
			return &domain.AlreadyStartedError{Key: p.Key, State: p.State}
		}
		p.Interactions = nil
		p.InteractionCount = 0
		p.QualityAverage = 0
		p.PersonaCounts = make(map[domain.Persona]int)
		p.QueryPathsUsed = nil
		delete(p.MasteryIndicators, QualityIndicator)
		p.CompletedAt = nil
	}
	now := m.now().UTC()
	p.State = domain.LessonInProgress
	p.Attempts++
	p.StartedAt = &now
	p.LastActivityAt = &now
	return nil
}

// RecordInteraction logs one quality-scored interaction and updates the running
// quality average, weighting recent interactions more heavily. A non-empty queryPath
// is added to the lesson's distinct query paths in first-use order.
func (m *Machine) RecordInteraction(p *domain.LessonProgress, persona domain.Persona, queryPath string, quality float64) error {
	if p.State != domain.LessonInProgress {
		return &domain.InvalidStateError{Key: p.Key, Op: "record interaction for", State: p.State}
	}
	if quality < 0 || quality > 1 {
		return fmt.Errorf("%w: quality %.3f", domain.ErrInvalidScore, quality)
	}
	now := m.now().UTC()
	p.Interactions = append(p.Interactions, domain.InteractionRecord{Persona: persona, QueryPath: queryPath, Quality: quality, Timestamp: now})
	if queryPath != "" && !slices.Contains(p.QueryPathsUsed, queryPath) {
		p.QueryPathsUsed = append(p.QueryPathsUsed, queryPath)
	}
	p.InteractionCount++
	if p.InteractionCount == 1 {
		p.QualityAverage = quality
	} else {
		p.QualityAverage = m.params.QualityDecay*quality + (1-m.params.QualityDecay)*p.QualityAverage
	}
	if p.PersonaCounts == nil {
		p.PersonaCounts = make(map[domain.Persona]int)
	}
	p.PersonaCounts[persona]++
	if p.MasteryIndicators == nil {
		p.MasteryIndicators = make(map[string]float64)
	}
	p.MasteryIndicators[QualityIndicator] = p.QualityAverage
	p.LastActivityAt = &now
	return nil
}

// Complete closes an in_progress lesson as mastered when quizScore reaches the
// mastery threshold, otherwise as completed. indicators are upserted.
func (m *Machine) Complete(p *domain.LessonProgress, quizScore float64, indicators map[string]float64) error {
	if p.State != domain.LessonInProgress {
		return &domain.InvalidStateError{Key: p.Key, Op: "complete", State: p.State}
	}
	if quizScore < 0 || quizScore > 1 {
		return fmt.Errorf("%w: quiz score %.3f", domain.ErrInvalidScore, quizScore)
	}
	now := m.now().UTC()
	p.QuizScores = append(p.QuizScores, quizScore)
	if p.MasteryIndicators == nil {
		p.MasteryIndicators = make(map[string]float64)
	}
	maps.Copy(p.MasteryIndicators, indicators)
	if quizScore >= m.params.MasteryThreshold {
		p.State = domain.LessonMastered
	} else {
		p.State = domain.LessonCompleted
	}
	p.CompletedAt = &now
	p.LastActivityAt = &now
	return nil
}

// Reset returns p to not_started and clears everything but its key.
func (m *Machine) Reset(p *domain.LessonProgress) {
	*p = *domain.NewLessonProgress(p.Key)
}
