// Command stream observes the curated collection's change stream and
// publishes one schema-bound event per mutation onto the event topic,
// persisting its resume position so restarts pick up where they left off.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/mongostore"
	"github.com/couchcryptid/air-quality-etl/internal/config"
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

	store, err := mongostore.Connect(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("mongodb connection failed", "error", err)
		os.Exit(1)
	}

	onDelivery := func(count int, err error) {
		if err != nil {
			metrics.PublishFailures.Add(float64(count))
			logger.Error("event delivery failed", "count", count, "error", err)
			return
		}
		metrics.EventsPublished.Add(float64(count))
	}
	writer := kafkaadapter.NewWriter(cfg, onDelivery, logger)

	open := func(ctx context.Context) (pipeline.ChangeSource, error) {
		return store.OpenChangeStream(ctx)
	}
	publisher := pipeline.NewPublisher(open, writer, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, publisher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := publisher.Run(ctx); err != nil {
			logger.Error("publisher error", "error", err)
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

	logger.Info("shutdown complete")
}
