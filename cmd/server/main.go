// lessonroute - persona routing server for guided lessons
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/lessonroute/internal/agent"
	"github.com/ashureev/lessonroute/internal/api"
	"github.com/ashureev/lessonroute/internal/config"
	"github.com/ashureev/lessonroute/internal/engine"
	"github.com/ashureev/lessonroute/internal/identity"
	"github.com/ashureev/lessonroute/internal/metrics"
	"github.com/ashureev/lessonroute/internal/middleware"
	"github.com/ashureev/lessonroute/internal/session"
	"github.com/ashureev/lessonroute/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const (
	sweepInterval   = time.Minute
	visitorIdleTime = 10 * time.Minute
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver)

	eng, err := config.LoadEngine(cfg.EngineConfigPath)
	if err != nil {
		slog.Error("Failed to load engine configuration", "error", err, "path", cfg.EngineConfigPath)
		os.Exit(1)
	}
	slog.Info("Engine configured", "personas", len(eng.Registry.Profiles()), "rules", len(eng.Rules.Rules()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err, "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected", "driver", cfg.Store.Driver)

	m := metrics.New()
	memory := agent.NewLocalMemoryIndex(0)

	coord, err := engine.New(eng, repo, engine.Options{
		StorageTimeout: cfg.Store.Timeout,
		Logger:         logger,
		Observer:       m,
		Memory:         memory,
	})
	if err != nil {
		slog.Error("Failed to initialize coordinator", "error", err)
		os.Exit(1)
	}

	gen, err := agent.NewTemplateGenerator(nil)
	if err != nil {
		slog.Error("Failed to initialize reply generator", "error", err)
		os.Exit(1)
	}

	// Generator sidecar probe (optional).
	var probe agent.Prober
	if cfg.GeneratorAddr != "" {
		slog.Info("Connecting to generator sidecar via gRPC", "address", cfg.GeneratorAddr)
		grpcProbe, err := agent.NewGrpcProbe(agent.DefaultGrpcProbeConfig(cfg.GeneratorAddr), logger)
		if err != nil {
			slog.Warn("Generator sidecar unreachable, health will not report it", "error", err)
		} else {
			defer grpcProbe.Close()
			probe = grpcProbe
		}
	}

	sm := session.NewManager()
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, visitorIdleTime)

	apiHandler := api.NewHandler(coord, repo, probe)
	wsHandler := session.NewHandler(coord, sm, gen, memory, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(middleware.CORS(allowedOrigins(cfg.FrontendURL)))

	// Public routes.
	r.Get("/health", apiHandler.Health)
	r.Handle("/metrics", m.Handler())

	// Learner routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		r.Use(limiter.Middleware)
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/dialogue", wsHandler.ServeHTTP)
	})

	// No WriteTimeout: dialogue WebSockets are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go coord.RunSweeper(ctx, sweepInterval, cfg.CacheIdleTTL)
	go limiter.Run(ctx)
	slog.Info("Background workers started", "cache_idle_ttl", cfg.CacheIdleTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown does not track hijacked connections.
	sm.CloseAll("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Repository, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		rs, err := store.NewRedis(connectCtx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return rs, nil
	case config.DriverMemory:
		slog.Warn("Using in-memory store, state is lost on restart")
		return store.NewMemory(), nil
	default:
		ss, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return ss, nil
	}
}

func allowedOrigins(frontendURL string) []string {
	if frontendURL == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(frontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
