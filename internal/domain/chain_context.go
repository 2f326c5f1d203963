package domain

import (
	"maps"
	"slices"
	"time"
)

// HistoryEntry is one recorded exchange between a learner and a persona.
type HistoryEntry struct {
	Persona          Persona        `json:"persona"`
	UtteranceSummary string         `json:"utterance_summary"`
	ResponseSummary  string         `json:"response_summary,omitempty"`
	Emotion          EmotionalState `json:"emotion"`
	Timestamp        time.Time      `json:"timestamp"`
}

// Insight is an annotation contributed by a persona.
type Insight struct {
	Value     string    `json:"value"`
	Persona   Persona   `json:"persona"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChainContext is the shared memory of one learner within one lesson.
// History is append-only; only an explicit reset clears it.
type ChainContext struct {
	Key             Key                `json:"key"`
	ChainID         string             `json:"chain_id"`
	History         []HistoryEntry     `json:"history"`
	Insights        map[string]Insight `json:"insights"`
	ProgressMarkers map[string]string  `json:"progress_markers"`
	Preferences     map[string]string  `json:"preferences"`
	Emotion         EmotionalState     `json:"emotion"`
	Engagement      Engagement         `json:"engagement"`
	PersonaUsage    map[Persona]int    `json:"persona_usage"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// NewChainContext returns an empty context for key.
func NewChainContext(key Key, chainID string, now time.Time) *ChainContext {
	return &ChainContext{
		Key:             key,
		ChainID:         chainID,
		Insights:        make(map[string]Insight),
		ProgressMarkers: make(map[string]string),
		Preferences:     make(map[string]string),
		Emotion:         EmotionNeutral,
		Engagement:      EngagementMedium,
		PersonaUsage:    make(map[Persona]int),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// RecentHistory returns the last n history entries.
func (c *ChainContext) RecentHistory(n int) []HistoryEntry {
	if n <= 0 {
		return nil
	}
	if n >= len(c.History) {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// Clone returns a deep copy so mutations can be staged before they are persisted.
func (c *ChainContext) Clone() *ChainContext {
	if c == nil {
		return nil
	}
	out := *c
	out.History = slices.Clone(c.History)
	out.Insights = cloneMap(c.Insights)
	out.ProgressMarkers = cloneMap(c.ProgressMarkers)
	out.Preferences = cloneMap(c.Preferences)
	out.PersonaUsage = cloneMap(c.PersonaUsage)
	return &out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return make(map[K]V)
	}
	return maps.Clone(m)
}
