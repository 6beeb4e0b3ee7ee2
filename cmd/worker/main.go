package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/paddockhq/governance/internal/ai"
	"github.com/paddockhq/governance/internal/config"
	"github.com/paddockhq/governance/internal/db"
	"github.com/paddockhq/governance/internal/jobs"
	"github.com/paddockhq/governance/internal/kernel"
	"github.com/paddockhq/governance/internal/metrics"
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

	vendor := ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey)

	// The worker talks to the vendor directly; response caching only pays off
	// on the interactive path.
	k := kernel.New(cfg, vendor, database, nil, logger)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	runner := jobs.NewRunner(database, jobs.DefaultRegistry(jobs.HandlerDeps{
		Kernel: k,
		Store:  database,
		Log:    logger,
	}), logger)
	runner.SetObserver(func(kind, outcome string) {
		m.JobsProcessed.WithLabelValues(kind, outcome).Inc()
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(registry))
		logger.Info().Str("port", cfg.WorkerMetricsPort).Msg("worker metrics listening")
		if err := http.ListenAndServe(":"+cfg.WorkerMetricsPort, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	c := cron.New()
	spec := fmt.Sprintf("@every %s", cfg.WorkerPollInterval)
	if _, err := c.AddFunc(spec, func() { drain(ctx, runner, logger) }); err != nil {
		logger.Fatal().Err(err).Str("spec", spec).Msg("failed to schedule job polling")
	}
	c.Start()
	logger.Info().Str("interval", cfg.WorkerPollInterval.String()).Msg("worker started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	<-c.Stop().Done()
}

// drain processes pending jobs until the queue is empty or the context ends.
func drain(ctx context.Context, runner *jobs.Runner, logger zerolog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := runner.RunOnce(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("job cycle failed")
			return
		}
		if !claimed {
			return
		}
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("LOG_FORMAT") == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
