// Command ingest polls the Open-Meteo air-quality API on an interval,
// validates each hourly payload, and curates the surviving readings into the
// document store. Rejected cells and failed payloads go to the dead-letter
// topic.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/mongostore"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/deadletter"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	loc, err := time.LoadLocation(cfg.APITimezone)
	if err != nil {
		logger.Error("invalid API timezone", "timezone", cfg.APITimezone, "error", err)
		os.Exit(1)
	}

	store, err := mongostore.Connect(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("mongodb connection failed", "error", err)
		os.Exit(1)
	}

	deadLetterWriter := kafkaadapter.NewDeadLetterWriter(cfg, logger)
	router := deadletter.NewRouter(cfg.DeadLetterTopic, deadLetterWriter, logger, metrics)

	client := openmeteo.NewClient(cfg, logger)
	curator := pipeline.NewCurator(store, store, router, loc, logger, metrics)

	cities := make([]string, 0, len(cfg.Cities))
	for city := range cfg.Cities {
		cities = append(cities, city)
	}
	scheduler := pipeline.NewScheduler(client, curator, router, cities, cfg.PollInterval, cfg.BackfillDays, clockwork.NewRealClock(), logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, scheduler, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := scheduler.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Error("mongodb close error", "error", err)
	}
	if err := deadLetterWriter.Close(); err != nil {
		logger.Error("dead letter writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
