package persona

import (
	"slices"
	"strings"
	"unicode"

	"github.com/ashureev/lessonroute/internal/domain"
)

// Matcher answers whole-word and whole-phrase lookups over one utterance.
type Matcher struct {
	tokens []string
	set    map[string]struct{}
}

// NewMatcher tokenizes utterance case-insensitively.
func NewMatcher(utterance string) *Matcher {
	tokens := tokenize(utterance)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return &Matcher{tokens: tokens, set: set}
}

// Empty reports whether the utterance had no words.
func (m *Matcher) Empty() bool { return len(m.tokens) == 0 }

// Len returns the number of words in the utterance.
func (m *Matcher) Len() int { return len(m.tokens) }

// Contains reports whether term occurs as a word, or as a contiguous phrase for multi-word terms.
func (m *Matcher) Contains(term string) bool {
	want := tokenize(term)
	switch len(want) {
	case 0:
		return false
	case 1:
		_, ok := m.set[want[0]]
		return ok
	}
	for i := 0; i+len(want) <= len(m.tokens); i++ {
		if slices.Equal(m.tokens[i:i+len(want)], want) {
			return true
		}
	}
	return false
}

// Matched returns the terms found in the utterance, in the order given.
func (m *Matcher) Matched(terms []string) []string {
	var out []string
	for _, t := range terms {
		if m.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// Score sums the weights of vocabulary keywords present in the utterance.
func Score(m *Matcher, vocabulary []Keyword) float64 {
	if m.Empty() {
		return 0
	}
	var total float64
	for _, kw := range vocabulary {
		if m.Contains(kw.Term) {
			total += kw.Weight
		}
	}
	return total
}

// PersonaScore is the relevance of one persona to an utterance.
type PersonaScore struct {
	Persona domain.Persona `json:"persona"`
	Score   float64        `json:"score"`
}

// ScoreAll scores every persona and orders the result by score, ties by priority.
func (r *Registry) ScoreAll(m *Matcher) []PersonaScore {
	out := make([]PersonaScore, len(r.profiles))
	for i, p := range r.profiles {
		out[i] = PersonaScore{Persona: p.ID, Score: Score(m, p.Vocabulary)}
	}
	// profiles are already in priority order, so a stable sort keeps that order for ties.
	slices.SortStableFunc(out, func(a, b PersonaScore) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
