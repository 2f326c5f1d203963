package agent

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/lessonroute/internal/chain"
	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/persona"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestLocalMemoryIndexSearch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewLocalMemoryIndex(3)
	texts := []string{
		"how do I practice breathing",
		"why does breathing calm the mind",
		"what is the purpose of stillness",
		"breathing practice every morning",
	}
	for _, text := range texts {
		if err := idx.Remember(ctx, MemoryRecord{LearnerID: "L1", Text: text}); err != nil {
			t.Fatalf("Remember() error = %v", err)
		}
	}
	if err := idx.Remember(ctx, MemoryRecord{LearnerID: "L2", Text: "breathing practice"}); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	got, err := idx.Search(ctx, "L1", "Breathing practice?", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	// the oldest record was evicted; the newest full match ranks first.
	if len(got) != 2 || got[0].Text != texts[3] || got[1].Text != texts[1] {
		t.Fatalf("Search() = %+v", got)
	}

	if got, _ := idx.Search(ctx, "L1", "a an", 5); got != nil {
		t.Fatalf("Search(stop words) = %+v, want nil", got)
	}
}

func TestTemplateGenerator(t *testing.T) {
	t.Parallel()

	gen, err := NewTemplateGenerator(nil)
	if err != nil {
		t.Fatalf("NewTemplateGenerator() error = %v", err)
	}
	req := GenerateRequest{
		Profile:   persona.Profile{ID: domain.PersonaSeed, Role: "Practice/Drill Mentor"},
		Utterance: "How do I practice this daily?",
		Handoff:   &chain.Handoff{Approach: "Transform understanding into actionable practice"},
	}
	got, err := gen.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.HasPrefix(got, "Transform understanding") || !strings.Contains(got, req.Utterance) {
		t.Fatalf("Generate() = %q", got)
	}

	req.Profile = persona.Profile{ID: "moon", Role: "Night Guide"}
	req.Handoff = nil
	got, err = gen.Generate(context.Background(), req)
	if err != nil || !strings.HasPrefix(got, "[Night Guide]") {
		t.Fatalf("Generate(fallback) = %q, %v", got, err)
	}
}

func TestTemplateGeneratorRejectsBadOverride(t *testing.T) {
	t.Parallel()

	_, err := NewTemplateGenerator(map[domain.Persona]string{domain.PersonaSky: "{{.Broken"})
	if err == nil {
		t.Fatal("NewTemplateGenerator() error = nil, want parse error")
	}
}

func TestGrpcProbe(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	probe, err := NewGrpcProbe(DefaultGrpcProbeConfig(lis.Addr().String()), nil)
	if err != nil {
		t.Fatalf("NewGrpcProbe() error = %v", err)
	}
	t.Cleanup(probe.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := probe.Check(ctx); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	if err := probe.Check(ctx); err == nil {
		t.Fatal("Check() error = nil, want not serving")
	}
}

func TestNewGrpcProbeFailsFast(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()

	cfg := DefaultGrpcProbeConfig(addr)
	cfg.ConnectTimeout = 300 * time.Millisecond
	if _, err := NewGrpcProbe(cfg, nil); err == nil {
		t.Fatal("NewGrpcProbe() error = nil, want readiness failure")
	}
}
