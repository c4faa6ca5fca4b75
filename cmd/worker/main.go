package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/bootstrap"
	"github.com/kirillkom/cdr-backoffice/internal/config"
	"github.com/kirillkom/cdr-backoffice/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Install("worker", "info").Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.Install("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "worker", logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", app.Metrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	logger.Info("worker_subscribed",
		"subject_prefix", cfg.NATSSubjectPrefix,
		"concurrency", cfg.WorkerConcurrency,
		"metrics_port", cfg.WorkerMetricsPort,
	)
	if err := app.Queue.Subscribe(ctx, app.Tasks.Handle); err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}
	// Retries scheduled before shutdown are abandoned; the orphan sweep requeues their documents.
	app.Tasks.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("worker_stopped")
}
