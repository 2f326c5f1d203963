// Package chain implements the operations on the shared per-lesson conversation memory.
// All operations take the record explicitly; keyed lookup and locking belong to the caller.
package chain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/persona"
	"github.com/google/uuid"
)

// Options tunes summaries, views and the affect heuristics.
type Options struct {
	HistoryView      int      `yaml:"history_view"`
	HandoffHistory   int      `yaml:"handoff_history"`
	SummaryMaxRunes  int      `yaml:"summary_max_runes"`
	PositiveKeywords []string `yaml:"positive_keywords"`
	NegativeKeywords []string `yaml:"negative_keywords"`
	HighEngagement   int      `yaml:"high_engagement_runes"`
	LowEngagement    int      `yaml:"low_engagement_runes"`
}

// DefaultOptions mirrors the heuristics the personas were tuned against.
func DefaultOptions() Options {
	return Options{
		HistoryView:      5,
		HandoffHistory:   3,
		SummaryMaxRunes:  200,
		PositiveKeywords: []string{"thank", "thanks", "great", "love", "amazing", "wonderful", "helpful"},
		NegativeKeywords: []string{"confused", "difficult", "hard", "frustrated", "stuck", "lost"},
		HighEngagement:   50,
		LowEngagement:    10,
	}
}

// Manager applies chain operations. It holds no per-learner state.
type Manager struct {
	opts  Options
	now   func() time.Time
	newID func() string
}

// NewManager returns a Manager using the wall clock and random UUIDs.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts, now: time.Now, newID: uuid.NewString}
}

// WithClock returns a copy of m that reads time from now.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	cp := *m
	cp.now = now
	return &cp
}

// GetOrCreate returns existing unchanged, or a fresh context for key when existing is nil.
func (m *Manager) GetOrCreate(existing *domain.ChainContext, key domain.Key) *domain.ChainContext {
	if existing != nil {
		return existing
	}
	return domain.NewChainContext(key, m.newID(), m.now().UTC())
}

// AppendInteraction appends one exchange, bumps the persona usage counter and
// re-estimates emotional state and engagement from the utterance.
func (m *Manager) AppendInteraction(c *domain.ChainContext, p domain.Persona, utterance, response string) domain.HistoryEntry {
	now := m.now().UTC()

	c.Emotion = c.Emotion.Shift(m.affectDelta(utterance))
	c.Engagement = m.engagement(utterance)

	entry := domain.HistoryEntry{
		Persona:          p,
		UtteranceSummary: Summarize(utterance, m.opts.SummaryMaxRunes),
		ResponseSummary:  Summarize(response, m.opts.SummaryMaxRunes),
		Emotion:          c.Emotion,
		Timestamp:        now,
	}
	c.History = append(c.History, entry)
	if c.PersonaUsage == nil {
		c.PersonaUsage = make(map[domain.Persona]int)
	}
	c.PersonaUsage[p]++
	c.UpdatedAt = now
	return entry
}

// AddInsight upserts an insight. The last write for a key wins.
func (m *Manager) AddInsight(c *domain.ChainContext, p domain.Persona, key, value string) {
	if c.Insights == nil {
		c.Insights = make(map[string]domain.Insight)
	}
	now := m.now().UTC()
	c.Insights[key] = domain.Insight{Value: value, Persona: p, UpdatedAt: now}
	c.UpdatedAt = now
}

// SetProgressMarker upserts a learning-progress marker.
func (m *Manager) SetProgressMarker(c *domain.ChainContext, key, value string) {
	if c.ProgressMarkers == nil {
		c.ProgressMarkers = make(map[string]string)
	}
	c.ProgressMarkers[key] = value
	c.UpdatedAt = m.now().UTC()
}

// SetPreference upserts a learner preference.
func (m *Manager) SetPreference(c *domain.ChainContext, key, value string) {
	if c.Preferences == nil {
		c.Preferences = make(map[string]string)
	}
	c.Preferences[key] = value
	c.UpdatedAt = m.now().UTC()
}

// Reset returns an empty context under a new chain id.
func (m *Manager) Reset(c *domain.ChainContext) *domain.ChainContext {
	return domain.NewChainContext(c.Key, m.newID(), m.now().UTC())
}

func (m *Manager) affectDelta(utterance string) int {
	matcher := persona.NewMatcher(utterance)
	delta := 0
	if len(matcher.Matched(m.opts.PositiveKeywords)) > 0 {
		delta++
	}
	if len(matcher.Matched(m.opts.NegativeKeywords)) > 0 {
		delta--
	}
	return delta
}

func (m *Manager) engagement(utterance string) domain.Engagement {
	n := utf8.RuneCountInString(strings.TrimSpace(utterance))
	switch {
	case n > m.opts.HighEngagement:
		return domain.EngagementHigh
	case n < m.opts.LowEngagement:
		return domain.EngagementLow
	default:
		return domain.EngagementMedium
	}
}

// Summarize collapses whitespace and truncates s to max runes.
func Summarize(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
