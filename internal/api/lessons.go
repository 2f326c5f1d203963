package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/identity"
)

type startRequest struct {
	Restart bool `json:"restart"`
}

type interactionRequest struct {
	Persona      domain.Persona `json:"persona"`
	QualityScore float64        `json:"quality_score"`
}

type completeRequest struct {
	QuizScore         *float64           `json:"quiz_score"`
	MasteryIndicators map[string]float64 `json:"mastery_indicators"`
}

// StartLesson moves the lesson to in_progress.
func (h *Handler) StartLesson(w http.ResponseWriter, r *http.Request) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req startRequest
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.coord.StartLesson(r.Context(), key, req.Restart)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// RecordInteraction logs a quality-scored interaction.
func (h *Handler) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req interactionRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.coord.RecordInteraction(r.Context(), key, req.Persona, req.QualityScore)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// CompleteLesson closes the lesson as completed or mastered.
func (h *Handler) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req completeRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.QuizScore == nil {
		Error(w, http.StatusBadRequest, "quiz_score is required")
		return
	}
	p, err := h.coord.CompleteLesson(r.Context(), key, *req.QuizScore, req.MasteryIndicators)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// ResetLesson returns the lesson to not_started.
func (h *Handler) ResetLesson(w http.ResponseWriter, r *http.Request) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.coord.ResetLesson(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// GetProgress returns the lesson record.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.coord.Progress(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// LearnerSummary aggregates the learner's lessons.
func (h *Handler) LearnerSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.coord.LearnerSummary(r.Context(), identity.LearnerIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// ListPersonas returns the configured persona profiles.
func (h *Handler) ListPersonas(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"personas": h.coord.Personas()})
}
