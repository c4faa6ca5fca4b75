package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/cdr-backoffice/internal/adapters/http"
	"github.com/kirillkom/cdr-backoffice/internal/bootstrap"
	"github.com/kirillkom/cdr-backoffice/internal/config"
	"github.com/kirillkom/cdr-backoffice/internal/observability/logging"
	"github.com/kirillkom/cdr-backoffice/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Install("api", "info").Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.Install("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "api", logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, httpadapter.Services{
		Reports:     app.ReportUC,
		Scanner:     app.ScanUC,
		Retry:       app.RetryUC,
		Maintenance: app.MaintenanceUC,
		Queue:       app.Queue,
		Metrics:     metrics.NewHTTPServerMetrics("api"),
	}).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
