package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/lessonroute/internal/agent"
	"github.com/ashureev/lessonroute/internal/config"
	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/engine"
	"github.com/ashureev/lessonroute/internal/identity"
	"github.com/ashureev/lessonroute/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type fixture struct {
	srv    *httptest.Server
	coord  *engine.Coordinator
	sm     *Manager
	memory *agent.LocalMemoryIndex
}

func newFixture(t *testing.T, withGenerator bool) *fixture {
	t.Helper()
	eng, err := config.LoadEngine("")
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	memory := agent.NewLocalMemoryIndex(0)
	coord, err := engine.New(eng, store.NewMemory(), engine.Options{Memory: memory})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	var gen agent.Generator
	if withGenerator {
		tg, err := agent.NewTemplateGenerator(nil)
		if err != nil {
			t.Fatalf("NewTemplateGenerator() error = %v", err)
		}
		gen = tg
	}
	sm := NewManager()
	h := NewHandler(coord, sm, gen, memory, "*", true)
	srv := httptest.NewServer(identity.Middleware(true)(h))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, coord: coord, sm: sm, memory: memory}
}

func (f *fixture) dial(t *testing.T, learnerID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set(identity.LearnerHeaderName, learnerID)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http"), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, msg clientMessage, replies int) []serverMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
	out := make([]serverMessage, replies)
	for i := range out {
		if err := wsjson.Read(ctx, conn, &out[i]); err != nil {
			t.Fatalf("read reply %d to %s: %v", i, msg.Type, err)
		}
	}
	return out
}

func TestPingPong(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	conn := f.dial(t, "L1")

	got := exchange(t, conn, clientMessage{Type: "ping"}, 1)
	if got[0].Type != "pong" {
		t.Fatalf("reply = %+v, want pong", got[0])
	}
}

func TestUtteranceWithoutGenerator(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	conn := f.dial(t, "L1")

	got := exchange(t, conn, clientMessage{
		Type:     "utterance",
		LessonID: "foundation_000",
		Persona:  domain.PersonaTree,
		Text:     "How do I practice this daily?",
	}, 1)
	s := got[0].Suggestion
	if got[0].Type != "suggestion" || s == nil {
		t.Fatalf("reply = %+v, want suggestion", got[0])
	}
	if !s.Committed || s.Transition == nil || s.Transition.To != domain.PersonaSeed {
		t.Fatalf("suggestion = %+v", s)
	}

	cc, err := f.coord.Context(context.Background(), domain.Key{LearnerID: "L1", LessonID: "foundation_000"})
	if err != nil {
		t.Fatalf("Context() error = %v", err)
	}
	if cc == nil || len(cc.History) != 1 || cc.History[0].ResponseSummary != "" {
		t.Fatalf("context = %+v, want one entry without response", cc)
	}
}

func TestUtteranceWithGenerator(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	conn := f.dial(t, "L2")

	got := exchange(t, conn, clientMessage{
		Type:     "utterance",
		LessonID: "foundation_000",
		Persona:  domain.PersonaTree,
		Text:     "How do I practice this daily?",
	}, 2)
	if got[0].Type != "suggestion" || got[1].Type != "response" {
		t.Fatalf("replies = %+v", got)
	}
	if got[1].Persona != domain.PersonaSeed || !strings.Contains(got[1].Text, "practice") {
		t.Fatalf("response = %+v, want seed reply", got[1])
	}

	cc, err := f.coord.Context(context.Background(), domain.Key{LearnerID: "L2", LessonID: "foundation_000"})
	if err != nil {
		t.Fatalf("Context() error = %v", err)
	}
	if cc == nil || len(cc.History) != 1 || cc.History[0].ResponseSummary == "" {
		t.Fatalf("context = %+v, want one entry with the generated response", cc)
	}
	if cc.History[0].Persona != domain.PersonaSeed || cc.PersonaUsage[domain.PersonaSeed] != 1 || cc.PersonaUsage[domain.PersonaTree] != 0 {
		t.Fatalf("exchange attributed to %q with usage %v, want the answering seed persona", cc.History[0].Persona, cc.PersonaUsage)
	}
	if got[0].Suggestion.Response != got[1].Text || !got[0].Suggestion.Committed {
		t.Fatalf("suggestion = %+v, want the committed reply", got[0].Suggestion)
	}

	hits, err := f.memory.Search(context.Background(), "L2", "practice daily", 1)
	if err != nil || len(hits) != 1 {
		t.Fatalf("Search() = %v, %v; want the committed utterance", hits, err)
	}
}

func TestPreviewIsNotCommitted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	conn := f.dial(t, "L3")

	got := exchange(t, conn, clientMessage{
		Type:     "utterance",
		LessonID: "l",
		Persona:  domain.PersonaSky,
		Text:     "why does this matter",
		Preview:  true,
	}, 1)
	if got[0].Suggestion == nil || got[0].Suggestion.Committed {
		t.Fatalf("reply = %+v, want uncommitted suggestion", got[0])
	}
	cc, err := f.coord.Context(context.Background(), domain.Key{LearnerID: "L3", LessonID: "l"})
	if err != nil || cc != nil {
		t.Fatalf("Context() = %+v, %v; want none", cc, err)
	}
}

func TestErrorsKeepSessionOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	conn := f.dial(t, "L4")

	tests := []struct {
		msg  clientMessage
		want int
	}{
		{clientMessage{Type: "utterance", LessonID: "l", Persona: "moon", Text: "hi"}, http.StatusBadRequest},
		{clientMessage{Type: "utterance", LessonID: "", Persona: domain.PersonaTree, Text: "hi"}, http.StatusBadRequest},
		{clientMessage{Type: "dance"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		got := exchange(t, conn, tt.msg, 1)
		if got[0].Type != "error" || got[0].Status != tt.want {
			t.Fatalf("%+v: reply = %+v, want error %d", tt.msg, got[0], tt.want)
		}
	}

	got := exchange(t, conn, clientMessage{Type: "ping"}, 1)
	if got[0].Type != "pong" {
		t.Fatalf("reply after errors = %+v", got[0])
	}
}

func TestTerminateUnregisters(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	conn := f.dial(t, "L5")

	exchange(t, conn, clientMessage{Type: "ping"}, 1)
	if n := f.sm.Count("L5"); n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}

	got := exchange(t, conn, clientMessage{Type: "terminate"}, 1)
	if got[0].Type != "terminated" {
		t.Fatalf("reply = %+v", got[0])
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.sm.Count("L5") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still registered after terminate")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManagerCount(t *testing.T) {
	sm := NewManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	sm.Register("L1", "c1", conn1)
	sm.Register("L1", "c2", conn2)
	sm.Register("L2", "c3", conn1)
	if sm.Count("L1") != 2 || sm.Count("") != 3 {
		t.Fatalf("Count(L1)=%d Count()=%d", sm.Count("L1"), sm.Count(""))
	}

	// Stale unregister must not drop the live connection.
	sm.Unregister("L1", "c1", conn2)
	if sm.Count("L1") != 2 {
		t.Fatalf("stale unregister removed a connection")
	}

	sm.Unregister("L1", "c1", conn1)
	sm.Unregister("L1", "c2", conn2)
	if sm.Count("L1") != 0 || sm.Count("") != 1 {
		t.Fatalf("Count(L1)=%d Count()=%d after unregister", sm.Count("L1"), sm.Count(""))
	}
}

func TestCloseAll(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	conn := f.dial(t, "L6")
	exchange(t, conn, clientMessage{Type: "ping"}, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sm.CloseAll("shutting down")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("Read() error = %v, want going away close", err)
	}
	<-done
	if f.sm.Count("") != 0 {
		t.Fatalf("Count() = %d after CloseAll", f.sm.Count(""))
	}
}
