package lesson

import "github.com/ashureev/lessonroute/internal/domain"

// LearnerSummary aggregates a learner's lessons.
type LearnerSummary struct {
	LearnerID        string  `json:"learner_id"`
	LessonsAttempted int     `json:"lessons_attempted"`
	LessonsCompleted int     `json:"lessons_completed"`
	LessonsMastered  int     `json:"lessons_mastered"`
	InProgress       int     `json:"lessons_in_progress"`
	CompletionRate   float64 `json:"completion_rate"`
	MasteryRate      float64 `json:"mastery_rate"`
}

// Summarize counts lesson outcomes. Completed includes mastered lessons.
func Summarize(learnerID string, progress []*domain.LessonProgress) LearnerSummary {
	s := LearnerSummary{LearnerID: learnerID}
	for _, p := range progress {
		if p == nil || p.Attempts == 0 {
			continue
		}
		s.LessonsAttempted++
		switch p.State {
		case domain.LessonMastered:
			s.LessonsMastered++
			s.LessonsCompleted++
		case domain.LessonCompleted:
			s.LessonsCompleted++
		case domain.LessonInProgress:
			s.InProgress++
		}
	}
	if s.LessonsAttempted > 0 {
		s.CompletionRate = float64(s.LessonsCompleted) / float64(s.LessonsAttempted)
		s.MasteryRate = float64(s.LessonsMastered) / float64(s.LessonsAttempted)
	}
	return s
}
