package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cryptassist/portfolio-engine/internal/advisor"
	"github.com/cryptassist/portfolio-engine/internal/config"
	"github.com/cryptassist/portfolio-engine/internal/metrics"
	"github.com/cryptassist/portfolio-engine/internal/portfolio"
	"github.com/cryptassist/portfolio-engine/internal/pricing"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logging.Logger(os.Stdout))

	ctx := context.Background()

	// --- Redis (shared by the store and price caches) ---
	var rdb *redis.Client
	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if cfg.Database.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Database.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("Redis cache enabled")
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.Database.URL != "" {
		if cfg.Database.MigrateOnStart {
			if err := store.RunMigrations(cfg.Database.URL); err != nil {
				slog.Error("migrations failed", "err", err)
				os.Exit(1)
			}
			slog.Info("migrations applied")
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			slog.Error("invalid DATABASE_URL", "err", err)
			os.Exit(1)
		}
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = int32(cfg.Database.MaxConns)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Cache.TTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Price gateway ---
	var prices pricing.Gateway = pricing.NewCoinGecko(pricing.Config{
		BaseURL:       cfg.Pricing.BaseURL,
		APIKey:        cfg.Pricing.APIKey,
		Timeout:       cfg.Pricing.Timeout,
		RatePerSecond: cfg.Pricing.RatePerSecond,
		ListingSize:   cfg.Pricing.ListingSize,
	})
	if rdb != nil {
		prices = pricing.NewCachedGateway(prices, rdb, cfg.Cache.PriceTTL)
	}

	// --- Advisor ---
	var gen advisor.Generator
	if cfg.Advisor.APIKey != "" {
		g, err := advisor.NewGemini(ctx, cfg.Advisor.APIKey, cfg.Advisor.Model)
		if err != nil {
			slog.Error("advisor init failed, advice will degrade", "err", err)
		} else {
			gen = g
		}
	} else {
		slog.Warn("GEMINI_API_KEY not set, advice requests will degrade")
	}
	adv := advisor.New(gen, prices, cfg.Advisor.Timeout)

	// --- WebSocket hub ---
	hubDone := make(chan struct{})
	wsHub := portfolio.NewWSHub()
	go wsHub.Run(hubDone)
	cleanup = append(cleanup, func() { close(hubDone) })

	// --- Portfolio service ---
	svc := portfolio.NewService(st, prices, adv, wsHub)
	api := portfolio.NewHandler(svc, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		api.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("portfolio-engine stopped")
}

// cors answers preflight requests and allows the configured origins.
func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, ", "))
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
