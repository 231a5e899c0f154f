package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var allKeys = []string{
	"PORT", "DATABASE_URL", "REDIS_URL", "QUOTE_URL", "QUOTE_API_KEY",
	"QUOTE_TIMEOUT", "QUOTE_CACHE_TTL", "STARTING_CASH", "SESSION_TTL",
	"VALUATION_FALLBACK", "KAFKA_BROKERS", "KAFKA_TOPIC", "CACHE_TTL", "CORS_ORIGINS", "LOG_LEVEL",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them after.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.QuoteURL != "https://finance.cs50.io/quote" {
		t.Errorf("unexpected quote url %s", cfg.QuoteURL)
	}
	if cfg.QuoteTimeout != 5*time.Second || cfg.QuoteCacheTTL != 15*time.Second {
		t.Errorf("unexpected quote timings %v %v", cfg.QuoteTimeout, cfg.QuoteCacheTTL)
	}
	if !cfg.StartingCash.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected starting cash 10000, got %s", cfg.StartingCash)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.CacheTTL != 30*time.Second {
		t.Errorf("unexpected ttls %v %v", cfg.SessionTTL, cfg.CacheTTL)
	}
	if cfg.ValuationFallback != FallbackLive {
		t.Errorf("expected live valuation, got %s", cfg.ValuationFallback)
	}
	if cfg.KafkaTopic != "trades" || cfg.KafkaBrokers != nil {
		t.Errorf("unexpected kafka config %s %v", cfg.KafkaTopic, cfg.KafkaBrokers)
	}
	if cfg.CORSOrigins != nil {
		t.Errorf("expected no cross-origin access by default, got %v", cfg.CORSOrigins)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("expected info level, got %v", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STARTING_CASH", "2500.50")
	t.Setenv("QUOTE_TIMEOUT", "750ms")
	t.Setenv("VALUATION_FALLBACK", "last_known")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CORS_ORIGINS", "https://app.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected 9090, got %s", cfg.Port)
	}
	if !cfg.StartingCash.Equal(decimal.RequireFromString("2500.50")) {
		t.Errorf("expected 2500.50, got %s", cfg.StartingCash)
	}
	if cfg.QuoteTimeout != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", cfg.QuoteTimeout)
	}
	if cfg.ValuationFallback != FallbackLastKnown {
		t.Errorf("expected last_known, got %s", cfg.ValuationFallback)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug, got %v", cfg.LogLevel)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"QUOTE_TIMEOUT", "soon"},
		{"SESSION_TTL", "-1h"},
		{"STARTING_CASH", "lots"},
		{"STARTING_CASH", "-5"},
		{"VALUATION_FALLBACK", "guess"},
		{"LOG_LEVEL", "loud"},
		{"CORS_ORIGINS", "https://app.example.com,*"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
