package domain

import (
	"slices"
	"time"
)

// LessonState is the lifecycle state of a learner within a lesson.
type LessonState string

const (
	LessonNotStarted LessonState = "not_started"
	LessonInProgress LessonState = "in_progress"
	LessonCompleted  LessonState = "completed"
	LessonMastered   LessonState = "mastered"
)

// IsTerminal reports whether no further interactions may be recorded.
func (s LessonState) IsTerminal() bool {
	return s == LessonCompleted || s == LessonMastered
}

// InteractionRecord is one quality-scored interaction in a lesson.
type InteractionRecord struct {
	Persona   Persona   `json:"persona"`
	QueryPath string    `json:"query_path,omitempty"`
	Quality   float64   `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

// LessonProgress is the state-machine record for a (learner, lesson) pair.
type LessonProgress struct {
	Key                Key                 `json:"key"`
	State              LessonState         `json:"state"`
	InteractionCount   int                 `json:"interaction_count"`
	Interactions       []InteractionRecord `json:"interactions"`
	QualityAverage     float64             `json:"quality_average"`
	PersonaCounts      map[Persona]int     `json:"persona_counts"`
	QueryPathsUsed     []string            `json:"query_paths_used"`
	MasteryIndicators  map[string]float64  `json:"mastery_indicators"`
	QuizScores         []float64           `json:"quiz_scores"`
	Attempts           int                 `json:"attempts"`
	// RecommendedPersona is the persona suggested to open the current attempt.
	RecommendedPersona Persona             `json:"recommended_persona,omitempty"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	LastActivityAt     *time.Time          `json:"last_activity_at,omitempty"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

// NewLessonProgress returns a not_started record for key.
func NewLessonProgress(key Key) *LessonProgress {
	return &LessonProgress{
		Key:               key,
		State:             LessonNotStarted,
		PersonaCounts:     make(map[Persona]int),
		MasteryIndicators: make(map[string]float64),
	}
}

// Clone returns a deep copy.
func (p *LessonProgress) Clone() *LessonProgress {
	if p == nil {
		return nil
	}
	out := *p
	out.Interactions = slices.Clone(p.Interactions)
	out.PersonaCounts = cloneMap(p.PersonaCounts)
	out.MasteryIndicators = cloneMap(p.MasteryIndicators)
	out.QuizScores = slices.Clone(p.QuizScores)
	out.QueryPathsUsed = slices.Clone(p.QueryPathsUsed)
	out.StartedAt = cloneTime(p.StartedAt)
	out.LastActivityAt = cloneTime(p.LastActivityAt)
	out.CompletedAt = cloneTime(p.CompletedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
