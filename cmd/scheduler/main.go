package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/cdr-backoffice/internal/bootstrap"
	"github.com/kirillkom/cdr-backoffice/internal/config"
	"github.com/kirillkom/cdr-backoffice/internal/observability/logging"
	"github.com/kirillkom/cdr-backoffice/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Install("scheduler", "info").Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.Install("scheduler", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := bootstrap.NewQueue(cfg, "scheduler")
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	sched, err := scheduler.New(queue, scheduler.Schedule{
		Scan:    cfg.ScanCron,
		Sweep:   cfg.SweepCron,
		Orphans: cfg.OrphanCron,
	}, logger)
	if err != nil {
		logger.Error("scheduler_init_failed", "error", err)
		os.Exit(1)
	}

	sched.Start()
	logger.Info("scheduler_started", "scan", cfg.ScanCron, "sweep", cfg.SweepCron, "orphans", cfg.OrphanCron)
	<-ctx.Done()
	<-sched.Stop().Done()
	logger.Info("scheduler_stopped")
}
