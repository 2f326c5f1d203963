package engine

import (
	"context"

	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/lesson"
)

// PreferredPersonaKey is the chain preference naming the persona a learner wants
// to open lessons with.
const PreferredPersonaKey = "preferred_persona"

// updateProgress applies fn to a clone of key's progress and persists the result.
// fn may read the chain, which is nil when none exists. On any error the cached
// progress is unchanged.
func (c *Coordinator) updateProgress(ctx context.Context, key domain.Key, op string, fn func(p *domain.LessonProgress, cc *domain.ChainContext) error) (*domain.LessonProgress, error) {
	e, err := c.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	staged := progressOf(e, key).Clone()
	if err := fn(staged, e.chain); err != nil {
		return nil, err
	}
	if err := c.saveProgress(ctx, e, staged); err != nil {
		return nil, err
	}
	c.observer.LessonTransition(op, staged.State)
	c.logger.Debug("lesson updated",
		"op", op,
		"learner_id", key.LearnerID,
		"lesson_id", key.LessonID,
		"state", staged.State)
	return staged.Clone(), nil
}

// StartLesson moves the lesson to in_progress. Without restart, a lesson that has
// already left not_started fails with AlreadyStartedError. Chain context is untouched.
// The returned progress names the persona recommended to open the attempt.
func (c *Coordinator) StartLesson(ctx context.Context, key domain.Key, restart bool) (*domain.LessonProgress, error) {
	return c.updateProgress(ctx, key, "start", func(p *domain.LessonProgress, cc *domain.ChainContext) error {
		if err := c.lessons.Start(p, restart); err != nil {
			return err
		}
		p.RecommendedPersona = c.startPersona(cc)
		return nil
	})
}

func (c *Coordinator) startPersona(cc *domain.ChainContext) domain.Persona {
	var preferred, last domain.Persona
	if cc != nil {
		if p := domain.Persona(cc.Preferences[PreferredPersonaKey]); c.registry.Has(p) {
			preferred = p
		}
		if n := len(cc.History); n > 0 {
			last = cc.History[n-1].Persona
		}
	}
	return lesson.StartPersona(preferred, last, c.lessons.Params().StartPersona)
}

// RecordInteraction logs a quality-scored interaction on an in_progress lesson.
func (c *Coordinator) RecordInteraction(ctx context.Context, key domain.Key, p domain.Persona, quality float64) (*domain.LessonProgress, error) {
	if err := c.requirePersona(p); err != nil {
		return nil, err
	}
	prof, _ := c.registry.Lookup(p)
	return c.updateProgress(ctx, key, "record", func(lp *domain.LessonProgress, _ *domain.ChainContext) error {
		return c.lessons.RecordInteraction(lp, p, prof.QueryPath, quality)
	})
}

// CompleteLesson closes the lesson as completed or mastered depending on quizScore.
// The chain context is kept; DiscardContext removes it explicitly.
func (c *Coordinator) CompleteLesson(ctx context.Context, key domain.Key, quizScore float64, indicators map[string]float64) (*domain.LessonProgress, error) {
	return c.updateProgress(ctx, key, "complete", func(p *domain.LessonProgress, _ *domain.ChainContext) error {
		return c.lessons.Complete(p, quizScore, indicators)
	})
}

// ResetLesson returns the lesson to not_started. The chain context is independent.
func (c *Coordinator) ResetLesson(ctx context.Context, key domain.Key) (*domain.LessonProgress, error) {
	return c.updateProgress(ctx, key, "reset", func(p *domain.LessonProgress, _ *domain.ChainContext) error {
		c.lessons.Reset(p)
		return nil
	})
}

// Progress returns the lesson record, or a not_started record if none exists.
func (c *Coordinator) Progress(ctx context.Context, key domain.Key) (*domain.LessonProgress, error) {
	e, err := c.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return progressOf(e, key).Clone(), nil
}

// LearnerSummary aggregates every persisted lesson of a learner.
func (c *Coordinator) LearnerSummary(ctx context.Context, learnerID string) (lesson.LearnerSummary, error) {
	key := domain.Key{LearnerID: learnerID, LessonID: "summary"}
	if err := key.Validate(); err != nil {
		return lesson.LearnerSummary{}, err
	}
	var list []*domain.LessonProgress
	err := c.storage(ctx, "list progress", key, func(ctx context.Context) error {
		var err error
		list, err = c.repo.ListProgress(ctx, learnerID)
		return err
	})
	if err != nil {
		return lesson.LearnerSummary{}, err
	}
	return lesson.Summarize(learnerID, list), nil
}
