// Package api provides HTTP handlers for the lesson routing API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/lessonroute/internal/agent"
	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/engine"
	"github.com/ashureev/lessonroute/internal/identity"
	"github.com/ashureev/lessonroute/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// Handler serves the lesson routing endpoints.
type Handler struct {
	coord *engine.Coordinator
	repo  store.Repository
	probe agent.Prober
}

// NewHandler creates a Handler. probe may be nil when no generator is deployed.
func NewHandler(coord *engine.Coordinator, repo store.Repository, probe agent.Prober) *Handler {
	return &Handler{coord: coord, repo: repo, probe: probe}
}

// RegisterRoutes registers the API routes. Learner-scoped routes expect
// identity.Middleware to have run.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/personas", h.ListPersonas)
		r.Post("/suggestions", h.Suggest)
		r.Get("/learners/me/summary", h.LearnerSummary)

		r.Route("/lessons/{lessonID}", func(r chi.Router) {
			r.Post("/start", h.StartLesson)
			r.Post("/interactions", h.RecordInteraction)
			r.Post("/complete", h.CompleteLesson)
			r.Post("/reset", h.ResetLesson)
			r.Get("/progress", h.GetProgress)

			r.Get("/context", h.GetContext)
			r.Delete("/context", h.DiscardContext)
			r.Post("/context/reset", h.ResetContext)
			r.Get("/context/summary", h.GetChainSummary)
			r.Post("/insights", h.AddInsight)
			r.Post("/preferences", h.SetPreference)
			r.Post("/markers", h.SetProgressMarker)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidKey),
		errors.Is(err, domain.ErrUnknownPersona),
		errors.Is(err, domain.ErrInvalidScore):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransientStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	attrs := []any{"error", err, "path", r.URL.Path, "learner_id", identity.LearnerIDFromContext(r.Context())}
	switch {
	case status >= http.StatusInternalServerError:
		slog.Error("Request failed", attrs...)
	default:
		slog.Debug("Request rejected", attrs...)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusInternalServerError && !errors.Is(err, domain.ErrConfiguration) {
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// lessonKey builds the key from the identified learner and the lessonID URL parameter.
func lessonKey(r *http.Request) (domain.Key, error) {
	return domain.NewKey(identity.LearnerIDFromContext(r.Context()), chi.URLParam(r, "lessonID"))
}
