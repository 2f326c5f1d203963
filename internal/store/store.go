// Package store provides persistence for chain contexts and lesson progress.
package store

import (
	"context"

	"github.com/ashureev/lessonroute/internal/domain"
)

// Repository is the persistence collaborator. Every call is all-or-nothing:
// a returned error means nothing was written.
type Repository interface {
	// LoadContext returns the chain context for key, or nil if none exists.
	LoadContext(ctx context.Context, key domain.Key) (*domain.ChainContext, error)

	// SaveContext creates or replaces the chain context stored under c.Key.
	SaveContext(ctx context.Context, c *domain.ChainContext) error

	// DeleteContext removes the chain context for key. Missing keys are not an error.
	DeleteContext(ctx context.Context, key domain.Key) error

	// LoadProgress returns lesson progress for key, or nil if the lesson was never started.
	LoadProgress(ctx context.Context, key domain.Key) (*domain.LessonProgress, error)

	// SaveProgress creates or replaces the progress stored under p.Key.
	SaveProgress(ctx context.Context, p *domain.LessonProgress) error

	// ListProgress returns every lesson progress record of a learner, ordered by lesson id.
	ListProgress(ctx context.Context, learnerID string) ([]*domain.LessonProgress, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
