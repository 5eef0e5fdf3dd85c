// Command store consumes change events from the event topic and folds them
// into the columnar wide-row store. Writes are idempotent, so redelivered
// events converge to the same rows.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/air-quality-etl/internal/adapter/cassandra"
	httpadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/kafka"
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

	session, err := cassandra.Connect(cfg, logger)
	if err != nil {
		logger.Error("cassandra connection failed", "error", err)
		os.Exit(1)
	}
	repo := cassandra.NewRepository(session, cfg)

	deadLetterWriter := kafkaadapter.NewDeadLetterWriter(cfg, logger)
	router := deadletter.NewRouter(cfg.DeadLetterTopic, deadLetterWriter, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	consumer := pipeline.NewConsumer(reader, repo, kafkaadapter.DecodeEvent, router, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, consumer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := consumer.Run(ctx); err != nil {
			logger.Error("consumer error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := deadLetterWriter.Close(); err != nil {
		logger.Error("dead letter writer close error", "error", err)
	}
	repo.Close()

	logger.Info("shutdown complete")
}
