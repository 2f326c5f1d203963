package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/lessonroute/internal/domain"
)

type insightRequest struct {
	Persona domain.Persona `json:"persona"`
	Key     string         `json:"key"`
	Value   string         `json:"value"`
}

type entryRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetContext returns the chain context, or the view for ?persona= when given.
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if p := r.URL.Query().Get("persona"); p != "" {
		view, err := h.coord.ContextForPersona(r.Context(), key, domain.Persona(p))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		JSON(w, http.StatusOK, view)
		return
	}
	cc, err := h.coord.Context(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cc == nil {
		Error(w, http.StatusNotFound, "no chain context for this lesson")
		return
	}
	JSON(w, http.StatusOK, cc)
}

// GetChainSummary returns chain-level totals.
func (h *Handler) GetChainSummary(w http.ResponseWriter, r *http.Request) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.coord.ChainSummary(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// DiscardContext deletes the chain context. Lesson progress is kept.
func (h *Handler) DiscardContext(w http.ResponseWriter, r *http.Request) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.coord.DiscardContext(r.Context(), key); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetContext starts a new, empty chain.
func (h *Handler) ResetContext(w http.ResponseWriter, r *http.Request) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cc, err := h.coord.ResetContext(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, cc)
}

// AddInsight upserts a persona insight.
func (h *Handler) AddInsight(w http.ResponseWriter, r *http.Request) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req insightRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		Error(w, http.StatusBadRequest, "key is required")
		return
	}
	cc, err := h.coord.AddInsight(r.Context(), key, req.Persona, req.Key, req.Value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, cc.Insights)
}

// SetPreference upserts a learner preference.
func (h *Handler) SetPreference(w http.ResponseWriter, r *http.Request) {
	h.upsertEntry(w, r, func(r *http.Request, key domain.Key, req entryRequest) (map[string]string, error) {
		cc, err := h.coord.SetPreference(r.Context(), key, req.Key, req.Value)
		if err != nil {
			return nil, err
		}
		return cc.Preferences, nil
	})
}

// SetProgressMarker upserts a learning-progress marker.
func (h *Handler) SetProgressMarker(w http.ResponseWriter, r *http.Request) {
	h.upsertEntry(w, r, func(r *http.Request, key domain.Key, req entryRequest) (map[string]string, error) {
		cc, err := h.coord.SetProgressMarker(r.Context(), key, req.Key, req.Value)
		if err != nil {
			return nil, err
		}
		return cc.ProgressMarkers, nil
	})
}

func (h *Handler) upsertEntry(w http.ResponseWriter, r *http.Request, apply func(*http.Request, domain.Key, entryRequest) (map[string]string, error)) {
	key, err := lessonKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req entryRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		Error(w, http.StatusBadRequest, "key is required")
		return
	}
	out, err := apply(r, key, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}
