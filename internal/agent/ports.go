// Package agent defines the outbound ports to response generation and memory search,
// with the local and gRPC-backed implementations the server wires in.
package agent

import (
	"context"
	"time"

	"github.com/ashureev/lessonroute/internal/chain"
	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/persona"
)

// GenerateRequest is everything a generator may use to answer as one persona.
type GenerateRequest struct {
	Profile   persona.Profile
	Utterance string
	View      chain.PersonaView
	Handoff   *chain.Handoff
	Memories  []MemoryRecord
}

// Generator produces persona response text. The routing engine never calls one directly.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// MemoryRecord is one remembered exchange.
type MemoryRecord struct {
	LearnerID string         `json:"learner_id"`
	LessonID  string         `json:"lesson_id"`
	Persona   domain.Persona `json:"persona"`
	Text      string         `json:"text"`
	CreatedAt time.Time      `json:"created_at"`
}

// MemoryIndex stores exchanges and finds those similar to a query.
type MemoryIndex interface {
	Remember(ctx context.Context, rec MemoryRecord) error
	Search(ctx context.Context, learnerID, query string, limit int) ([]MemoryRecord, error)
}

// Prober reports whether an external collaborator is reachable.
type Prober interface {
	Check(ctx context.Context) error
}
