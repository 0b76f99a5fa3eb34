package config

import (
	"log/slog"
	"testing"
	"time"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("queryhub-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("profile = %q, want dev", cfg.Profile)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("http address = %q", cfg.HTTP.Address)
	}
	if cfg.Generation.MaxAttempts != 3 {
		t.Fatalf("generation max attempts = %d, want 3", cfg.Generation.MaxAttempts)
	}
	if cfg.Resolver.MinSimilarity != 0.35 {
		t.Fatalf("resolver min similarity = %v", cfg.Resolver.MinSimilarity)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Fatalf("cache ttl = %v", cfg.Cache.TTL)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	cfg, err := Load("queryhub-api", mapLookup(map[string]string{
		"QUERYHUB_PROFILE":                 "prod",
		"QUERYHUB_HTTP_ADDR":               ":9999",
		"QUERYHUB_GENERATION_MAX_ATTEMPTS": "5",
		"QUERYHUB_RESOLVER_MIN_SIMILARITY": "0.5",
		"QUERYHUB_EXECUTOR_ROW_LIMIT":      "50",
		"QUERYHUB_CACHE_TTL":               "1h",
		"QUERYHUB_LOG_LEVEL":               "error",
	}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("http address = %q", cfg.HTTP.Address)
	}
	if cfg.Generation.MaxAttempts != 5 {
		t.Fatalf("generation max attempts = %d", cfg.Generation.MaxAttempts)
	}
	if cfg.Resolver.MinSimilarity != 0.5 {
		t.Fatalf("resolver min similarity = %v", cfg.Resolver.MinSimilarity)
	}
	if cfg.Executor.RowLimit != 50 {
		t.Fatalf("executor row limit = %d", cfg.Executor.RowLimit)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Fatalf("cache ttl = %v", cfg.Cache.TTL)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("log level = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatalf("prod profile should require auth")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad profile":     {"QUERYHUB_PROFILE": "staging"},
		"bad duration":    {"QUERYHUB_CACHE_TTL": "soon"},
		"bad int":         {"QUERYHUB_EXECUTOR_ROW_LIMIT": "many"},
		"bad float":       {"QUERYHUB_RESOLVER_MIN_SIMILARITY": "high"},
		"bad log level":   {"QUERYHUB_LOG_LEVEL": "loud"},
		"zero attempts":   {"QUERYHUB_GENERATION_MAX_ATTEMPTS": "0"},
		"threshold range": {"QUERYHUB_RESOLVER_MIN_SIMILARITY": "1.5"},
	}
	for name, env := range cases {
		if _, err := Load("queryhub-api", mapLookup(env)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
