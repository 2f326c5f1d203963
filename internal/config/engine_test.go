package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/lessonroute/internal/domain"
)

func TestLoadEngineDefault(t *testing.T) {
	t.Parallel()

	eng, err := LoadEngine("")
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	ids := eng.Registry.IDs()
	want := []domain.Persona{domain.PersonaTree, domain.PersonaSeed, domain.PersonaSky}
	if len(ids) != len(want) {
		t.Fatalf("IDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("IDs()[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
	if got := len(eng.Rules.Rules()); got != 6 {
		t.Fatalf("rule count = %d, want 6", got)
	}
	if eng.Routing.DiversityWindow != 3 || eng.Lesson.MasteryThreshold != 0.8 {
		t.Fatalf("unexpected params: routing=%+v lesson=%+v", eng.Routing, eng.Lesson)
	}
	seed, _ := eng.Registry.Lookup(domain.PersonaSeed)
	if seed.QueryPath != "practical" {
		t.Fatalf("seed query path = %q", seed.QueryPath)
	}
}

func TestParseEngineRejectsSelfRule(t *testing.T) {
	t.Parallel()

	doc := []byte(`
personas:
  - {id: a, priority: 0, primary: [alpha]}
  - {id: b, priority: 1, primary: [beta]}
rules:
  - {from: a, to: a, triggers: [alpha], base_confidence: 0.5}
`)
	_, err := ParseEngine(doc)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("ParseEngine() error = %v, want configuration error", err)
	}
}

func TestParseEngineRejectsBadConfidence(t *testing.T) {
	t.Parallel()

	doc := []byte(`
personas:
  - {id: a, priority: 0, primary: [alpha]}
  - {id: b, priority: 1, primary: [beta]}
rules:
  - {from: a, to: b, triggers: [beta], base_confidence: 1.5}
  - {from: b, to: a, triggers: [alpha], base_confidence: 0.5}
`)
	if _, err := ParseEngine(doc); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("ParseEngine() error = %v, want configuration error", err)
	}
}

func TestLoadEngineFromFile(t *testing.T) {
	t.Parallel()

	doc := `
personas:
  - {id: a, priority: 0, keywords: [{term: alpha, weight: 2}]}
  - {id: b, priority: 1, primary: [beta]}
rules:
  - {from: a, to: b, triggers: [beta], base_confidence: 0.5}
  - {from: b, to: a, triggers: [alpha], base_confidence: 0.5}
routing:
  diversity_window: 4
`
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	eng, err := LoadEngine(path)
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	if eng.Routing.DiversityWindow != 4 || eng.Routing.MinMatches != 1 {
		t.Fatalf("Routing = %+v, want window 4 with default min matches", eng.Routing)
	}
	a, _ := eng.Registry.Lookup("a")
	if len(a.Vocabulary) != 1 || a.Vocabulary[0].Weight != 2 {
		t.Fatalf("vocabulary = %+v", a.Vocabulary)
	}
}

func TestLoadEngineMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadEngine(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("LoadEngine() error = %v, want configuration error", err)
	}
}

func TestParseEngineStartPersona(t *testing.T) {
	t.Parallel()

	const personas = `
personas:
  - {id: a, priority: 0, primary: [alpha]}
  - {id: b, priority: 1, primary: [beta]}
rules:
  - {from: a, to: b, triggers: [beta], base_confidence: 0.5}
  - {from: b, to: a, triggers: [alpha], base_confidence: 0.5}
`
	tests := []struct {
		name    string
		lesson  string
		want    domain.Persona
		wantErr bool
	}{
		{"unset uses first persona", "", "a", false},
		{"explicit", "lesson: {start_persona: b}\n", "b", false},
		{"unknown", "lesson: {start_persona: seed}\n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eng, err := ParseEngine([]byte(personas + tt.lesson))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrConfiguration) {
					t.Fatalf("ParseEngine() error = %v, want configuration error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEngine() error = %v", err)
			}
			if eng.Lesson.StartPersona != tt.want {
				t.Fatalf("StartPersona = %q, want %q", eng.Lesson.StartPersona, tt.want)
			}
		})
	}

	eng, err := LoadEngine("")
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	if eng.Lesson.StartPersona != domain.PersonaSeed {
		t.Fatalf("default StartPersona = %q, want seed", eng.Lesson.StartPersona)
	}
}

func TestParseEngineRejectsConfidenceBelowPenalty(t *testing.T) {
	t.Parallel()

	doc := []byte(`
personas:
  - {id: a, priority: 0, primary: [alpha]}
  - {id: b, priority: 1, primary: [beta]}
rules:
  - {from: a, to: b, triggers: [beta], base_confidence: 0.1}
  - {from: b, to: a, triggers: [alpha], base_confidence: 0.5}
routing:
  diversity_penalty: 0.15
`)
	if _, err := ParseEngine(doc); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("ParseEngine() error = %v, want configuration error", err)
	}
}
