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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/stockfx/ledger-engine/internal/api"
	"github.com/stockfx/ledger-engine/internal/ledger"
	"github.com/stockfx/ledger-engine/internal/metrics"
	"github.com/stockfx/ledger-engine/internal/quote"
	"github.com/stockfx/ledger-engine/internal/session"
	"github.com/stockfx/ledger-engine/internal/store"
	"github.com/stockfx/ledger-engine/internal/valuation"
	"github.com/stockfx/ledger-engine/internal/watchlist"
)

const (
	quoteTickInterval = 2 * time.Second
	sampleInterval    = 3 * time.Second
	sessionTTL        = 12 * time.Hour
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Optional .env file for local development.
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env not loaded, using process environment")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := store.NewPool(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote feed ---
	sim := quote.NewSimulator(quote.DefaultInstruments(), time.Now().UnixNano())

	// --- Services ---
	engine := ledger.NewEngine(st, sim)
	sessions := session.NewManager(st, sessionTTL)
	val := valuation.NewService(st, sim, sim, valuation.DefaultSeriesCapacity)
	wl := watchlist.NewRegistry(st, sim, sim)

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run()

	svc := api.NewService(engine, val, wl, sessions, st, sim, hub)

	// --- Periodic triggers ---
	// The core holds no timers; the quote walk and portfolio sampling
	// are driven from here and only ever read ledger state.
	stopTickers := make(chan struct{})
	go func() {
		ticker := time.NewTicker(quoteTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sim.Tick()
				metrics.QuoteTicks.Inc()
				hub.BroadcastQuotes(sim.Quotes())
			case <-stopTickers:
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), sampleInterval)
				for _, uid := range sessions.ActiveUsers() {
					if err := val.Sample(ctx, uid); err != nil {
						slog.Warn("portfolio sample failed", "user", uid, "err", err)
					}
				}
				cancel()
			case <-stopTickers:
				return
			}
		}
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", svc.Routes())

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	close(stopTickers)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ledger-engine stopped")
}
