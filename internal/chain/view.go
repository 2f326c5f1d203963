package chain

import (
	"maps"
	"slices"
	"time"

	"github.com/ashureev/lessonroute/internal/domain"
)

// PersonaView is the read-only slice of a ChainContext relevant to one persona.
// It shares no memory with the context it was built from.
type PersonaView struct {
	Key                 domain.Key                `json:"key"`
	ChainID             string                    `json:"chain_id"`
	Persona             domain.Persona            `json:"persona"`
	RecentHistory       []domain.HistoryEntry     `json:"recent_history"`
	OwnInsights         map[string]domain.Insight `json:"own_insights"`
	OtherInsights       map[string]domain.Insight `json:"other_insights"`
	ProgressMarkers     map[string]string         `json:"progress_markers"`
	Preferences         map[string]string         `json:"preferences"`
	Emotion             domain.EmotionalState     `json:"emotion"`
	Engagement          domain.Engagement         `json:"engagement"`
	PersonaUsage        map[domain.Persona]int    `json:"persona_usage"`
	TotalInteractions   int                       `json:"total_interactions"`
	LastInteractionTime *time.Time                `json:"last_interaction_at,omitempty"`
}

// ContextForPersona builds the view handed to the response generator for p.
func (m *Manager) ContextForPersona(c *domain.ChainContext, p domain.Persona) PersonaView {
	v := PersonaView{
		Key:               c.Key,
		ChainID:           c.ChainID,
		Persona:           p,
		RecentHistory:     slices.Clone(c.RecentHistory(m.opts.HistoryView)),
		OwnInsights:       make(map[string]domain.Insight),
		OtherInsights:     make(map[string]domain.Insight),
		ProgressMarkers:   maps.Clone(c.ProgressMarkers),
		Preferences:       maps.Clone(c.Preferences),
		Emotion:           c.Emotion,
		Engagement:        c.Engagement,
		PersonaUsage:      maps.Clone(c.PersonaUsage),
		TotalInteractions: len(c.History),
	}
	for k, ins := range c.Insights {
		if ins.Persona == p {
			v.OwnInsights[k] = ins
		} else {
			v.OtherInsights[k] = ins
		}
	}
	if n := len(c.History); n > 0 {
		ts := c.History[n-1].Timestamp
		v.LastInteractionTime = &ts
	}
	return v
}

// Handoff is the context package prepared when the conversation changes persona.
type Handoff struct {
	Summary          string                    `json:"handoff_summary"`
	Approach         string                    `json:"recommended_approach,omitempty"`
	PreviousInsights map[string]domain.Insight `json:"previous_persona_insights"`
	Conversation     []domain.HistoryEntry     `json:"conversation_context"`
	Emotion          domain.EmotionalState     `json:"emotion"`
	Engagement       domain.Engagement         `json:"engagement"`
	ProgressMarkers  map[string]string         `json:"progress_markers"`
}

// PrepareHandoff collects what the target persona needs to pick up from the source.
func (m *Manager) PrepareHandoff(c *domain.ChainContext, from, to domain.Persona, approach string) Handoff {
	h := Handoff{
		Summary:          "Transitioning from " + string(from) + " to " + string(to),
		Approach:         approach,
		PreviousInsights: make(map[string]domain.Insight),
		Conversation:     slices.Clone(c.RecentHistory(m.opts.HandoffHistory)),
		Emotion:          c.Emotion,
		Engagement:       c.Engagement,
		ProgressMarkers:  maps.Clone(c.ProgressMarkers),
	}
	for k, ins := range c.Insights {
		if ins.Persona == from {
			h.PreviousInsights[k] = ins
		}
	}
	return h
}

// Summary is a compact description of a chain.
type Summary struct {
	ChainID           string                 `json:"chain_id"`
	TotalInteractions int                    `json:"total_interactions"`
	PersonasUsed      []domain.Persona       `json:"personas_used"`
	PersonaUsage      map[domain.Persona]int `json:"persona_usage"`
	Emotion           domain.EmotionalState  `json:"emotion"`
	Engagement        domain.Engagement      `json:"engagement"`
	InsightCount      int                    `json:"insight_count"`
}

// Describe reports chain-level totals. PersonasUsed is sorted for stable output.
func (m *Manager) Describe(c *domain.ChainContext) Summary {
	used := make([]domain.Persona, 0, len(c.PersonaUsage))
	for p, n := range c.PersonaUsage {
		if n > 0 {
			used = append(used, p)
		}
	}
	slices.Sort(used)
	return Summary{
		ChainID:           c.ChainID,
		TotalInteractions: len(c.History),
		PersonasUsed:      used,
		PersonaUsage:      maps.Clone(c.PersonaUsage),
		Emotion:           c.Emotion,
		Engagement:        c.Engagement,
		InsightCount:      len(c.Insights),
	}
}
