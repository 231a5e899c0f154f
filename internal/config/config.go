// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// ErrInvalid is returned when an environment variable has an unusable value.
var ErrInvalid = errors.New("config: invalid value")

// Valuation fallback policies accepted by VALUATION_FALLBACK.
const (
	FallbackLive      = "live"
	FallbackLastKnown = "last_known"
)

// Config holds everything the server and CLI need to wire themselves.
type Config struct {
	Port              string
	DatabaseURL       string
	RedisURL          string
	QuoteURL          string
	QuoteAPIKey       string
	QuoteTimeout      time.Duration
	QuoteCacheTTL     time.Duration
	StartingCash      decimal.Decimal
	SessionTTL        time.Duration
	ValuationFallback string
	KafkaBrokers      []string
	KafkaTopic        string
	CacheTTL          time.Duration
	CORSOrigins       []string
	LogLevel          slog.Level
}

// Load reads .env files (if present) and then the process environment.
// Variables already set in the environment win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		QuoteURL:          getEnv("QUOTE_URL", "https://finance.cs50.io/quote"),
		QuoteAPIKey:       os.Getenv("QUOTE_API_KEY"),
		ValuationFallback: getEnv("VALUATION_FALLBACK", FallbackLive),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "trades"),
	}

	var err error
	if cfg.QuoteTimeout, err = durationEnv("QUOTE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.QuoteCacheTTL, err = durationEnv("QUOTE_CACHE_TTL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	cash := getEnv("STARTING_CASH", "10000.00")
	cfg.StartingCash, err = decimal.NewFromString(cash)
	if err != nil || cfg.StartingCash.IsNegative() {
		return nil, fmt.Errorf("%w: STARTING_CASH=%q", ErrInvalid, cash)
	}

	switch cfg.ValuationFallback {
	case FallbackLive, FallbackLastKnown:
	default:
		return nil, fmt.Errorf("%w: VALUATION_FALLBACK=%q (want %s or %s)",
			ErrInvalid, cfg.ValuationFallback, FallbackLive, FallbackLastKnown)
	}

	cfg.KafkaBrokers = listEnv("KAFKA_BROKERS")
	cfg.CORSOrigins = listEnv("CORS_ORIGINS")
	for _, o := range cfg.CORSOrigins {
		if o == "*" {
			return nil, fmt.Errorf("%w: CORS_ORIGINS may not contain * (sessions use cookies)", ErrInvalid)
		}
	}

	level := getEnv("LOG_LEVEL", "info")
	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL=%q", ErrInvalid, level)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// listEnv splits a comma-separated variable, dropping empty entries.
func listEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	return d, nil
}
