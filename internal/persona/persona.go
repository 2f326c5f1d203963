// Package persona holds the static persona profiles and the keyword scorer.
package persona

import (
	"fmt"
	"slices"

	"github.com/ashureev/lessonroute/internal/domain"
)

// Keyword is a vocabulary term and the weight it contributes when matched.
type Keyword struct {
	Term   string  `json:"term" yaml:"term"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Profile is the immutable description of a persona.
type Profile struct {
	ID            domain.Persona `json:"id"`
	Role          string         `json:"role"`
	ResponseStyle string         `json:"response_style"`
	QueryPath     string         `json:"query_path"`
	Priority      int            `json:"priority"`
	Vocabulary    []Keyword      `json:"vocabulary"`
}

// Registry is the closed set of personas, ordered by tie-break priority.
type Registry struct {
	profiles []Profile
	index    map[domain.Persona]int
}

// NewRegistry validates profiles and orders them by priority, then id.
func NewRegistry(profiles []Profile) (*Registry, error) {
	if len(profiles) < 2 {
		return nil, &domain.ConfigurationError{Component: "personas", Detail: "at least two personas are required"}
	}
	sorted := slices.Clone(profiles)
	slices.SortStableFunc(sorted, func(a, b Profile) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	r := &Registry{profiles: sorted, index: make(map[domain.Persona]int, len(sorted))}
	for i, p := range sorted {
		if p.ID == "" {
			return nil, &domain.ConfigurationError{Component: "personas", Detail: fmt.Sprintf("persona #%d has no id", i)}
		}
		if _, dup := r.index[p.ID]; dup {
			return nil, &domain.ConfigurationError{Component: "personas", Detail: fmt.Sprintf("duplicate persona %q", p.ID)}
		}
		if len(p.Vocabulary) == 0 {
			return nil, &domain.ConfigurationError{Component: "personas", Detail: fmt.Sprintf("persona %q has an empty vocabulary", p.ID)}
		}
		for _, kw := range p.Vocabulary {
			if len(tokenize(kw.Term)) == 0 || kw.Weight <= 0 {
				return nil, &domain.ConfigurationError{
					Component: "personas",
					Detail:    fmt.Sprintf("persona %q keyword %q must have text and a positive weight", p.ID, kw.Term),
				}
			}
		}
		r.index[p.ID] = i
	}
	return r, nil
}

// Lookup returns the profile for id.
func (r *Registry) Lookup(id domain.Persona) (Profile, bool) {
	i, ok := r.index[id]
	if !ok {
		return Profile{}, false
	}
	return r.profiles[i], true
}

// Has reports whether id is a known persona.
func (r *Registry) Has(id domain.Persona) bool {
	_, ok := r.index[id]
	return ok
}

// IDs returns persona ids in priority order.
func (r *Registry) IDs() []domain.Persona {
	ids := make([]domain.Persona, len(r.profiles))
	for i, p := range r.profiles {
		ids[i] = p.ID
	}
	return ids
}

// Profiles returns a copy of all profiles in priority order.
func (r *Registry) Profiles() []Profile {
	return slices.Clone(r.profiles)
}

// Rank returns the position of id in the priority order, or -1.
func (r *Registry) Rank(id domain.Persona) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return -1
}
