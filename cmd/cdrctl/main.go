package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/cdr-backoffice/internal/bootstrap"
	"github.com/kirillkom/cdr-backoffice/internal/cli"
	"github.com/kirillkom/cdr-backoffice/internal/config"
	"github.com/kirillkom/cdr-backoffice/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	load := func(ctx context.Context) (*cli.Operations, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		logger := logging.Install("cdrctl", cfg.LogLevel)
		app, err := bootstrap.New(ctx, cfg, "cdrctl", logger)
		if err != nil {
			return nil, nil, err
		}
		return &cli.Operations{
			Scanner:     app.ScanUC,
			Processor:   app.ProcessUC,
			Retry:       app.RetryUC,
			Maintenance: app.MaintenanceUC,
			Reports:     app.ReportUC,
			Queue:       app.Queue,
		}, app.Close, nil
	}

	if err := cli.Execute(ctx, load); err != nil {
		stop()
		os.Exit(1)
	}
}
