package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/lessonroute/internal/config"
	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/engine"
	"github.com/ashureev/lessonroute/internal/identity"
	"github.com/ashureev/lessonroute/internal/store"
	"github.com/go-chi/chi/v5"
)

type stubProber struct{ err error }

func (p stubProber) Check(context.Context) error { return p.err }

type downRepo struct{ store.Repository }

func (downRepo) Ping(context.Context) error { return errors.New("database is locked") }

func newTestServer(t *testing.T, repo store.Repository, probe *stubProber) *httptest.Server {
	t.Helper()
	eng, err := config.LoadEngine("")
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	coord, err := engine.New(eng, repo, engine.Options{})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	h := NewHandler(coord, repo, nil)
	if probe != nil {
		h = NewHandler(coord, repo, *probe)
	}

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(true))
		h.RegisterRoutes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(identity.LearnerHeaderName, "L1")
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	key := domain.Key{LearnerID: "L1", LessonID: "x"}
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: moon", domain.ErrUnknownPersona), http.StatusBadRequest},
		{domain.ErrInvalidScore, http.StatusBadRequest},
		{&domain.InvalidStateError{Key: key, Op: "complete", State: domain.LessonNotStarted}, http.StatusConflict},
		{&domain.AlreadyStartedError{Key: key, State: domain.LessonInProgress}, http.StatusConflict},
		{&domain.TransientStorageError{Op: "save", Key: key, Err: errors.New("timeout")}, http.StatusServiceUnavailable},
		{&domain.ConfigurationError{Component: "rules", Detail: "x"}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestLessonFlowOverHTTP(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, store.NewMemory(), nil)

	var progress domain.LessonProgress
	if code := call(t, srv, http.MethodPost, "/api/lessons/foundation_000/start", "", &progress); code != http.StatusOK {
		t.Fatalf("start: status %d", code)
	}
	if progress.State != domain.LessonInProgress || progress.Key.LearnerID != "L1" || progress.RecommendedPersona != domain.PersonaSeed {
		t.Fatalf("start: %+v", progress)
	}

	var errBody map[string]string
	if code := call(t, srv, http.MethodPost, "/api/lessons/foundation_000/start", `{"restart":false}`, &errBody); code != http.StatusConflict {
		t.Fatalf("second start: status %d", code)
	}

	var res engine.SuggestionResult
	body := `{"lesson_id":"foundation_000","current_persona":"tree","utterance":"How do I practice this daily?"}`
	if code := call(t, srv, http.MethodPost, "/api/suggestions", body, &res); code != http.StatusOK {
		t.Fatalf("suggest: status %d", code)
	}
	if !res.Recommendation.ShouldTransition || *res.Recommendation.RecommendedPersona != domain.PersonaSeed {
		t.Fatalf("suggest: %+v", res.Recommendation)
	}

	if code := call(t, srv, http.MethodPost, "/api/lessons/foundation_000/interactions", `{"persona":"seed","quality_score":0.8}`, &progress); code != http.StatusOK {
		t.Fatalf("interaction: status %d", code)
	}
	if len(progress.QueryPathsUsed) != 1 || progress.QueryPathsUsed[0] != "practical" {
		t.Fatalf("interaction: query paths %v, want [practical]", progress.QueryPathsUsed)
	}
	if code := call(t, srv, http.MethodPost, "/api/lessons/foundation_000/complete", `{"quiz_score":0.9}`, &progress); code != http.StatusOK {
		t.Fatalf("complete: status %d", code)
	}
	if progress.State != domain.LessonMastered {
		t.Fatalf("complete: state %s", progress.State)
	}

	if code := call(t, srv, http.MethodPost, "/api/lessons/foundation_000/interactions", `{"persona":"seed","quality_score":0.8}`, &errBody); code != http.StatusConflict {
		t.Fatalf("interaction after completion: status %d", code)
	}

	var summary map[string]any
	if code := call(t, srv, http.MethodGet, "/api/learners/me/summary", "", &summary); code != http.StatusOK {
		t.Fatalf("summary: status %d", code)
	}
	if summary["lessons_mastered"].(float64) != 1 {
		t.Fatalf("summary: %v", summary)
	}
}

func TestValidationOverHTTP(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, store.NewMemory(), nil)

	var errBody map[string]string
	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/suggestions", `{"lesson_id":"l","current_persona":"moon","utterance":"why"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/suggestions", `{"lesson_id":"","current_persona":"tree"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/suggestions", `not json`, http.StatusBadRequest},
		{http.MethodPost, "/api/lessons/l/complete", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/api/lessons/l/complete", `{"quiz_score":0.5}`, http.StatusConflict},
		{http.MethodGet, "/api/lessons/l/context", "", http.StatusNotFound},
		{http.MethodPost, "/api/lessons/l/insights", `{"persona":"tree","key":" "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if code := call(t, srv, tt.method, tt.path, tt.body, &errBody); code != tt.want {
			t.Fatalf("%s %s %s: status %d, want %d (%v)", tt.method, tt.path, tt.body, code, tt.want, errBody)
		}
		if errBody["error"] == "" {
			t.Fatalf("%s %s: empty error body", tt.method, tt.path)
		}
	}
}

func TestSuggestionRecordsResponder(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, store.NewMemory(), nil)

	var res engine.SuggestionResult
	body := `{"lesson_id":"l","current_persona":"tree","utterance":"How do I practice this daily?","response":"Try it at breakfast.","responder":"seed"}`
	if code := call(t, srv, http.MethodPost, "/api/suggestions", body, &res); code != http.StatusOK || !res.Committed {
		t.Fatalf("suggest: status %d committed %v", code, res.Committed)
	}

	var cc domain.ChainContext
	if code := call(t, srv, http.MethodGet, "/api/lessons/l/context", "", &cc); code != http.StatusOK {
		t.Fatalf("context: status %d", code)
	}
	if len(cc.History) != 1 || cc.History[0].Persona != domain.PersonaSeed || cc.PersonaUsage[domain.PersonaSeed] != 1 {
		t.Fatalf("history = %+v usage = %v, want the exchange under seed", cc.History, cc.PersonaUsage)
	}

	var errBody map[string]string
	body = `{"lesson_id":"l","current_persona":"tree","utterance":"why","responder":"moon"}`
	if code := call(t, srv, http.MethodPost, "/api/suggestions", body, &errBody); code != http.StatusBadRequest {
		t.Fatalf("unknown responder: status %d", code)
	}
}

func TestContextEndpoints(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, store.NewMemory(), nil)

	var insights map[string]domain.Insight
	if code := call(t, srv, http.MethodPost, "/api/lessons/l/insights", `{"persona":"tree","key":"idea","value":"impermanence"}`, &insights); code != http.StatusOK {
		t.Fatalf("insight: status %d", code)
	}
	if insights["idea"].Value != "impermanence" {
		t.Fatalf("insights = %v", insights)
	}

	var prefs map[string]string
	if code := call(t, srv, http.MethodPost, "/api/lessons/l/preferences", `{"key":"pace","value":"slow"}`, &prefs); code != http.StatusOK || prefs["pace"] != "slow" {
		t.Fatalf("preferences: status %d body %v", code, prefs)
	}
	var markers map[string]string
	if code := call(t, srv, http.MethodPost, "/api/lessons/l/markers", `{"key":"module","value":"2"}`, &markers); code != http.StatusOK || markers["module"] != "2" {
		t.Fatalf("markers: status %d body %v", code, markers)
	}

	var view map[string]any
	if code := call(t, srv, http.MethodGet, "/api/lessons/l/context?persona=sky", "", &view); code != http.StatusOK {
		t.Fatalf("view: status %d", code)
	}
	if other := view["other_insights"].(map[string]any); other["idea"] == nil {
		t.Fatalf("view = %v", view)
	}

	var cc domain.ChainContext
	if code := call(t, srv, http.MethodGet, "/api/lessons/l/context", "", &cc); code != http.StatusOK || cc.Preferences["pace"] != "slow" {
		t.Fatalf("context: status %d body %+v", code, cc)
	}

	var reset domain.ChainContext
	if code := call(t, srv, http.MethodPost, "/api/lessons/l/context/reset", "", &reset); code != http.StatusOK || reset.ChainID == cc.ChainID {
		t.Fatalf("reset: status %d", code)
	}

	var sum map[string]any
	if code := call(t, srv, http.MethodGet, "/api/lessons/l/context/summary", "", &sum); code != http.StatusOK {
		t.Fatalf("summary: status %d", code)
	}

	if code := call(t, srv, http.MethodDelete, "/api/lessons/l/context", "", nil); code != http.StatusNoContent {
		t.Fatalf("delete: status %d", code)
	}
	var errBody map[string]string
	if code := call(t, srv, http.MethodGet, "/api/lessons/l/context", "", &errBody); code != http.StatusNotFound {
		t.Fatalf("context after delete: status %d", code)
	}
}

func TestListPersonas(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, store.NewMemory(), nil)

	var body struct {
		Personas []struct {
			ID        string `json:"id"`
			QueryPath string `json:"query_path"`
		} `json:"personas"`
	}
	if code := call(t, srv, http.MethodGet, "/api/personas", "", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(body.Personas) != 3 || body.Personas[1].ID != "seed" || body.Personas[1].QueryPath != "practical" {
		t.Fatalf("personas = %+v", body.Personas)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		repo  store.Repository
		probe *stubProber
		want  int
	}{
		{"ok", store.NewMemory(), nil, http.StatusOK},
		{"generator ok", store.NewMemory(), &stubProber{}, http.StatusOK},
		{"generator down", store.NewMemory(), &stubProber{err: errors.New("unavailable")}, http.StatusServiceUnavailable},
		{"store down", downRepo{store.NewMemory()}, nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, tt.repo, tt.probe)
			var body map[string]any
			if code := call(t, srv, http.MethodGet, "/health", "", &body); code != tt.want {
				t.Fatalf("status %d, want %d (%v)", code, tt.want, body)
			}
		})
	}
}
