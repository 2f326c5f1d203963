// Package metrics exports engine and HTTP metrics in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/routing"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple servers never collide.
type Metrics struct {
	registry *prometheus.Registry

	suggestions      *prometheus.CounterVec
	confidence       *prometheus.HistogramVec
	lessonTransition *prometheus.CounterVec
	storageDuration  *prometheus.HistogramVec
	storageErrors    *prometheus.CounterVec
	evictions        prometheus.Counter

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		suggestions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessonroute_suggestions_total",
				Help: "Routing decisions by current persona, recommended persona and mode",
			},
			[]string{"from", "to", "mode"},
		),
		confidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lessonroute_transition_confidence",
				Help:    "Confidence of recommended transitions",
				Buckets: []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
			[]string{"from", "to"},
		),
		lessonTransition: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessonroute_lesson_transitions_total",
				Help: "Lesson state machine operations by resulting state",
			},
			[]string{"op", "state"},
		),
		storageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lessonroute_storage_duration_seconds",
				Help:    "Duration of repository calls",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"op"},
		),
		storageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessonroute_storage_errors_total",
				Help: "Failed repository calls",
			},
			[]string{"op"},
		),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lessonroute_cache_evictions_total",
			Help: "Idle cache entries evicted",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.suggestions, m.confidence, m.lessonTransition,
		m.storageDuration, m.storageErrors, m.evictions,
		m.requests, m.requestDuration,
	)
	return m
}

// Suggestion records one routing decision.
func (m *Metrics) Suggestion(current domain.Persona, rec routing.Recommendation, preview bool) {
	mode := "commit"
	if preview {
		mode = "preview"
	}
	to := "stay"
	if t, ok := rec.(routing.Transition); ok {
		to = string(t.To)
		m.confidence.WithLabelValues(string(current), to).Observe(t.Confidence)
	}
	m.suggestions.WithLabelValues(string(current), to, mode).Inc()
}

// LessonTransition records a lesson state machine operation.
func (m *Metrics) LessonTransition(op string, state domain.LessonState) {
	m.lessonTransition.WithLabelValues(op, string(state)).Inc()
}

// StorageCall records the duration and outcome of a repository call.
func (m *Metrics) StorageCall(op string, d time.Duration, err error) {
	m.storageDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.storageErrors.WithLabelValues(op).Inc()
	}
}

// CacheEvicted records evicted cache entries.
func (m *Metrics) CacheEvicted(n int) {
	m.evictions.Add(float64(n))
}

// Middleware counts requests by chi route pattern and status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
