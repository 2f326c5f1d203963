package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/lessonroute/internal/agent"
	"github.com/ashureev/lessonroute/internal/api"
	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/engine"
	"github.com/ashureev/lessonroute/internal/identity"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	writeTimeout   = 5 * time.Second
	generateBudget = 10 * time.Second
	memoryHits     = 3
)

// Handler runs one dialogue per WebSocket connection. Each utterance is routed
// through the coordinator and, when a generator is set, answered by the responder persona.
type Handler struct {
	coord         *engine.Coordinator
	sm            *Manager
	gen           agent.Generator
	memory        agent.MemoryIndex
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a dialogue handler. gen and memory may be nil.
func NewHandler(coord *engine.Coordinator, sm *Manager, gen agent.Generator, memory agent.MemoryIndex, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		coord:         coord,
		sm:            sm,
		gen:           gen,
		memory:        memory,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientMessage is what the browser sends.
type clientMessage struct {
	Type     string         `json:"type"`
	LessonID string         `json:"lesson_id,omitempty"`
	Persona  domain.Persona `json:"persona,omitempty"`
	Text     string         `json:"text,omitempty"`
	Preview  bool           `json:"preview,omitempty"`
}

// serverMessage is what the handler sends back.
type serverMessage struct {
	Type       string                   `json:"type"`
	Suggestion *engine.SuggestionResult `json:"suggestion,omitempty"`
	Persona    domain.Persona           `json:"persona,omitempty"`
	Text       string                   `json:"text,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Status     int                      `json:"status,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "learner_id", learnerID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "learner_id", learnerID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "learner_id", learnerID)
		}
	}()

	connID := uuid.NewString()
	h.sm.Register(learnerID, connID, ws)
	defer h.sm.Unregister(learnerID, connID, ws)

	h.readLoop(r.Context(), ws, learnerID)
	slog.Info("Dialogue session ended", "learner_id", learnerID, "conn_id", connID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, learnerID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "learner_id", learnerID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "learner_id", learnerID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.send(ctx, ws, serverMessage{Type: "error", Error: "malformed message", Status: http.StatusBadRequest})
			continue
		}

		switch msg.Type {
		case "utterance":
			h.handleUtterance(ctx, ws, learnerID, msg)
		case "ping":
			h.send(ctx, ws, serverMessage{Type: "pong"})
		case "terminate":
			slog.Info("Dialogue terminate requested", "learner_id", learnerID)
			h.send(ctx, ws, serverMessage{Type: "terminated"})
			return
		default:
			h.send(ctx, ws, serverMessage{Type: "error", Error: "unknown message type " + msg.Type, Status: http.StatusBadRequest})
		}
	}
}

// handleUtterance routes one utterance. With a generator, the reply is drafted by
// the recommended persona and committed with the utterance in the same turn.
func (h *Handler) handleUtterance(ctx context.Context, ws *websocket.Conn, learnerID string, msg clientMessage) {
	key, err := domain.NewKey(learnerID, msg.LessonID)
	if err != nil {
		h.sendError(ctx, ws, err)
		return
	}
	req := engine.SuggestionRequest{Key: key, Persona: msg.Persona, Utterance: msg.Text, Preview: msg.Preview}

	var res *engine.SuggestionResult
	if h.gen == nil {
		res, err = h.coord.GetSuggestion(ctx, req)
	} else {
		res, err = h.coord.Converse(ctx, req, func(ctx context.Context, decision *engine.SuggestionResult) (string, error) {
			return h.generate(ctx, key, msg.Text, decision)
		})
	}
	if err != nil {
		h.sendError(ctx, ws, err)
		return
	}
	h.send(ctx, ws, serverMessage{Type: "suggestion", Suggestion: res})
	if res.Response != "" {
		h.send(ctx, ws, serverMessage{Type: "response", Persona: res.Responder(), Text: res.Response})
	}
}

func (h *Handler) generate(ctx context.Context, key domain.Key, utterance string, decision *engine.SuggestionResult) (string, error) {
	profile, err := h.coord.Profile(decision.Responder())
	if err != nil {
		return "", err
	}

	var memories []agent.MemoryRecord
	if h.memory != nil {
		memories, err = h.memory.Search(ctx, key.LearnerID, utterance, memoryHits)
		if err != nil {
			slog.Warn("Memory search failed", "error", err, "learner_id", key.LearnerID)
			memories = nil
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, generateBudget)
	defer cancel()
	return h.gen.Generate(genCtx, agent.GenerateRequest{
		Profile:   profile,
		Utterance: utterance,
		View:      decision.Context,
		Handoff:   decision.Handoff,
		Memories:  memories,
	})
}

func (h *Handler) sendError(ctx context.Context, ws *websocket.Conn, err error) {
	status := api.StatusFor(err)
	text := err.Error()
	if status == http.StatusInternalServerError && !errors.Is(err, domain.ErrConfiguration) {
		slog.Error("Dialogue turn failed", "error", err)
		text = "internal error"
	}
	h.send(ctx, ws, serverMessage{Type: "error", Error: text, Status: status})
}

func (h *Handler) send(ctx context.Context, ws *websocket.Conn, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode dialogue message", "error", err, "type", msg.Type)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err, "type", msg.Type)
	}
}
