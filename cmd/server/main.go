package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/papertrade/finance/internal/auth"
	"github.com/papertrade/finance/internal/config"
	"github.com/papertrade/finance/internal/events"
	"github.com/papertrade/finance/internal/ledger"
	"github.com/papertrade/finance/internal/metrics"
	"github.com/papertrade/finance/internal/migrate"
	"github.com/papertrade/finance/internal/quote"
	"github.com/papertrade/finance/internal/store"
	"github.com/papertrade/finance/internal/trade"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (optional: position cache, quote cache, sessions) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("Redis enabled")
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		if err := migrate.New(pool).ApplyAll(ctx); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")
		st = store.NewPostgresStore(pool)

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis position cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Quote provider ---
	var quotes quote.Provider = quote.NewHTTPProvider(cfg.QuoteURL, cfg.QuoteAPIKey, cfg.QuoteTimeout)
	if rdb != nil {
		quotes = quote.NewCachedProvider(quotes, rdb, cfg.QuoteCacheTTL)
	}

	// --- Trade events ---
	wsHub := events.NewHub()
	go wsHub.Run(ctx)
	notifiers := events.Multi{wsHub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() {
			if err := kp.Close(); err != nil {
				slog.Error("kafka close", "err", err)
			}
		})
		notifiers = append(notifiers, kp)
	}

	// --- Ledger engine ---
	valuation := ledger.ValuationLive
	if cfg.ValuationFallback == config.FallbackLastKnown {
		valuation = ledger.ValuationLastKnown
	}
	engine := ledger.NewEngine(st, quotes,
		ledger.WithValuation(valuation),
		ledger.WithNotifier(notifiers),
	)

	// --- Auth ---
	var sessions auth.Sessions = auth.NewMemorySessions()
	if rdb != nil {
		sessions = auth.NewRedisSessions(rdb)
	}
	authSvc := auth.NewService(st, sessions, cfg.StartingCash, cfg.SessionTTL)

	tradeSvc := trade.NewService(engine, authSvc)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(trade.NoCache)
	r.Use(trade.CORS(cfg.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"finance"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket trade tape. Not behind the request timeout.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Sessions.
			r.Post("/register", tradeSvc.Register)
			r.Post("/login", tradeSvc.Login)
			r.Post("/logout", tradeSvc.Logout)

			r.Group(func(r chi.Router) {
				r.Use(authSvc.Middleware)

				r.Get("/quote", tradeSvc.GetQuote)

				// Trade execution.
				r.Post("/buy", tradeSvc.Buy)
				r.Post("/sell", tradeSvc.Sell)

				// Portfolio queries.
				r.Get("/holdings", tradeSvc.GetHoldings)
				r.Get("/portfolio", tradeSvc.GetPortfolio)
				r.Get("/history", tradeSvc.GetHistory)
				r.Get("/profile", tradeSvc.GetProfile)
			})
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("finance server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down finance server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("finance server stopped")
}
