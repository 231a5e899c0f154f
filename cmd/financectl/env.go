package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papertrade/finance/internal/auth"
	"github.com/papertrade/finance/internal/config"
	"github.com/papertrade/finance/internal/ledger"
	"github.com/papertrade/finance/internal/quote"
	"github.com/papertrade/finance/internal/store"
)

// env holds the services a command needs, wired from the same
// configuration the server reads.
type env struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	store  store.Store
	quotes quote.Provider
	engine *ledger.Engine
}

// openEnv connects to PostgreSQL. The CLI has no use for the in-memory
// store, so DATABASE_URL is required.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	st := store.NewPostgresStore(pool)
	quotes := quote.NewHTTPProvider(cfg.QuoteURL, cfg.QuoteAPIKey, cfg.QuoteTimeout)

	valuation := ledger.ValuationLive
	if cfg.ValuationFallback == config.FallbackLastKnown {
		valuation = ledger.ValuationLastKnown
	}

	return &env{
		cfg:    cfg,
		pool:   pool,
		store:  st,
		quotes: quotes,
		engine: ledger.NewEngine(st, quotes, ledger.WithValuation(valuation)),
	}, nil
}

func (e *env) Close() {
	e.pool.Close()
}

func (e *env) auth() *auth.Service {
	return auth.NewService(e.store, auth.NewMemorySessions(), e.cfg.StartingCash, e.cfg.SessionTTL)
}

// userID resolves a username to its account id.
func (e *env) userID(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", errors.New("-user is required")
	}
	acct, err := e.store.GetAccountByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("no such user %q", username)
	}
	if err != nil {
		return "", err
	}
	return acct.UserID, nil
}
