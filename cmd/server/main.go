package main

import (
	"context"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/paddockhq/governance/internal/admin"
	"github.com/paddockhq/governance/internal/ai"
	"github.com/paddockhq/governance/internal/cache"
	"github.com/paddockhq/governance/internal/config"
	"github.com/paddockhq/governance/internal/db"
	"github.com/paddockhq/governance/internal/governor"
	"github.com/paddockhq/governance/internal/kernel"
	"github.com/paddockhq/governance/internal/metrics"
	"github.com/paddockhq/governance/internal/ratelimit"
	"github.com/paddockhq/governance/internal/tenant"
)

func main() {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	database, err := db.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	// A missing rate-limit store is not fatal: the limiter fails open.
	var store ratelimit.Store
	redisStore, err := ratelimit.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("rate limit store unavailable, limiter will fail open")
	} else {
		store = redisStore
		defer redisStore.Close()
	}
	limiter := ratelimit.New(store, logger)

	resolver := tenant.NewResolver(database)
	gov := governor.New(cfg.JWTSecret, resolver, limiter, logger)

	vendor := ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey)

	respCache, err := cache.NewSemanticCache(database, cfg.RedisURL, cacheEmbedder(vendor), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("response cache unavailable, ai calls go straight to the vendor")
		respCache = nil
	}

	k := kernel.New(cfg, vendor, database, respCache, logger)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	router := mux.NewRouter()
	router.Use(m.Middleware())

	// Public routes
	router.HandleFunc("/healthz", healthHandler).Methods("GET")
	router.Handle("/metrics", metrics.Handler(registry)).Methods("GET")
	router.HandleFunc("/auth/token", tokenHandler(database, cfg.JWTSecret, logger)).Methods("POST")

	// Admin routes
	adminHandler := admin.NewAdminHandler(database, logger)
	adminSub := router.PathPrefix("/admin").Subrouter()
	adminSub.Use(gov.Middleware(governor.GateConfig{
		RequireAuth:   true,
		RequireTenant: true,
		Tier:          governor.TierLow,
	}, database))
	adminSub.Use(requireCapability("admin"))
	adminHandler.RegisterRoutes(adminSub)

	// Embeddings are cheap relative to chat, so they get the high tier's
	// larger quota. Registered before the /api/ai prefix so the more specific
	// path wins.
	embedSub := router.PathPrefix("/api/ai/embed").Subrouter()
	embedSub.Use(gov.Middleware(governor.GateConfig{
		RequireAuth:   true,
		RequireTenant: true,
		Tier:          governor.TierHigh,
	}, database))
	embedSub.HandleFunc("", embedHandler(k)).Methods("POST")

	// Chat completions: expensive tier, small quotas.
	aiSub := router.PathPrefix("/api/ai").Subrouter()
	aiSub.Use(gov.Middleware(governor.GateConfig{
		RequireAuth:   true,
		RequireTenant: true,
		Tier:          governor.TierExpensive,
	}, database))
	aiSub.HandleFunc("/chat", chatHandler(k, m)).Methods("POST")

	// Governed job routes: standard tier.
	jobSub := router.PathPrefix("/api/jobs").Subrouter()
	jobSub.Use(gov.Middleware(governor.GateConfig{
		RequireAuth:   true,
		RequireTenant: true,
		Tier:          governor.TierStandard,
	}, database))
	jobSub.HandleFunc("", enqueueJobHandler(database)).Methods("POST")
	jobSub.HandleFunc("/{id}", getJobHandler(database)).Methods("GET")

	logger.Info().Str("port", cfg.ServerPort).Msg("server starting")
	if err := http.ListenAndServe(":"+cfg.ServerPort, router); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("LOG_FORMAT") == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func cacheEmbedder(vendor *ai.Client) cache.EmbedFunc {
	return func(ctx context.Context, inputs []string) ([][]float64, error) {
		return vendor.Embed(ctx, "text-embedding-3-small", inputs)
	}
}
