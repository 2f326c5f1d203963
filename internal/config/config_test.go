package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DB_PATH", "./data/test.db")
	t.Setenv("STORAGE_TIMEOUT", "bogus")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_RPS", "5")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("CACHE_IDLE_TTL", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Timeout != 2*time.Second {
		t.Fatalf("Store.Timeout = %v, want fallback 2s", cfg.Store.Timeout)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.CacheIdleTTL != time.Minute {
		t.Fatalf("CacheIdleTTL = %v, want 1m", cfg.CacheIdleTTL)
	}
	if cfg.RateLimit.RequestsPerSecond != 5 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Port:      "8080",
		Store:     StoreConfig{Driver: "postgres", Timeout: time.Second},
		RateLimit: RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want unknown driver error")
	}
	cfg.Store.Driver = DriverMemory
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"https://lessons.example.com", false},
	}
	for _, tt := range tests {
		if got := (&Config{FrontendURL: tt.url}).IsDevelopment(); got != tt.want {
			t.Fatalf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
