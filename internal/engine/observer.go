package engine

import (
	"time"

	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/routing"
)

// Observer receives engine events, typically to export metrics.
type Observer interface {
	Suggestion(current domain.Persona, rec routing.Recommendation, preview bool)
	LessonTransition(op string, state domain.LessonState)
	StorageCall(op string, d time.Duration, err error)
	CacheEvicted(n int)
}

type nopObserver struct{}

func (nopObserver) Suggestion(domain.Persona, routing.Recommendation, bool) {}
func (nopObserver) LessonTransition(string, domain.LessonState)            {}
func (nopObserver) StorageCall(string, time.Duration, error)               {}
func (nopObserver) CacheEvicted(int)                                       {}
