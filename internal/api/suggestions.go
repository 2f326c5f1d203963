package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/engine"
	"github.com/ashureev/lessonroute/internal/identity"
)

type suggestionRequest struct {
	LessonID       string         `json:"lesson_id"`
	CurrentPersona domain.Persona `json:"current_persona"`
	Utterance      string         `json:"utterance"`
	Response       string         `json:"response"`
	Responder      domain.Persona `json:"responder"`
	Preview        bool           `json:"preview"`
}

// Suggest returns the routing decision for one utterance.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req suggestionRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := domain.NewKey(identity.LearnerIDFromContext(r.Context()), req.LessonID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.coord.GetSuggestion(r.Context(), engine.SuggestionRequest{
		Key:       key,
		Persona:   req.CurrentPersona,
		Utterance: req.Utterance,
		Response:  req.Response,
		Responder: req.Responder,
		Preview:   req.Preview,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	slog.Debug("Suggestion served",
		"learner_id", key.LearnerID,
		"lesson_id", key.LessonID,
		"persona", req.CurrentPersona,
		"should_transition", res.Recommendation.ShouldTransition,
		"confidence", res.Recommendation.Confidence)
	JSON(w, http.StatusOK, res)
}
