package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/ashureev/lessonroute/internal/domain"
)

// MemoryStore is an in-process Repository. Values are cloned on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[domain.Key]*domain.ChainContext
	progress map[domain.Key]*domain.LessonProgress
}

// NewMemory returns an empty in-process repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		contexts: make(map[domain.Key]*domain.ChainContext),
		progress: make(map[domain.Key]*domain.LessonProgress),
	}
}

var _ Repository = (*MemoryStore)(nil)

func (s *MemoryStore) LoadContext(_ context.Context, key domain.Key) (*domain.ChainContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contexts[key].Clone(), nil
}

func (s *MemoryStore) SaveContext(_ context.Context, c *domain.ChainContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[c.Key] = c.Clone()
	return nil
}

func (s *MemoryStore) DeleteContext(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, key)
	return nil
}

func (s *MemoryStore) LoadProgress(_ context.Context, key domain.Key) (*domain.LessonProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress[key].Clone(), nil
}

func (s *MemoryStore) SaveProgress(_ context.Context, p *domain.LessonProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[p.Key] = p.Clone()
	return nil
}

func (s *MemoryStore) ListProgress(_ context.Context, learnerID string) ([]*domain.LessonProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.LessonProgress
	for k, p := range s.progress {
		if k.LearnerID == learnerID {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.LessonProgress) int {
		return strings.Compare(a.Key.LessonID, b.Key.LessonID)
	})
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
