package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/cdr-backoffice/internal/config"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
	"github.com/kirillkom/cdr-backoffice/internal/core/usecase"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/billing"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/cdr"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/queue/nats"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/resilience"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/cdr-backoffice/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	DB      *sql.DB
	Queue   *nats.Queue
	Metrics *metrics.PipelineMetrics

	Documents ports.DocumentRepository
	BadCases  ports.BadCaseRepository

	ScanUC        *usecase.ScanUseCase
	ProcessUC     *usecase.ProcessDocumentUseCase
	ReconcileUC   *usecase.ReconcileUseCase
	RetryUC       *usecase.RetryUseCase
	MaintenanceUC *usecase.MaintenanceUseCase
	ReportUC      *usecase.ReportUseCase
	Tasks         *usecase.TaskRunner

	closeFn func()
}

// NewQueue connects to NATS only, for processes that just publish tasks.
func NewQueue(cfg config.Config, clientName string) (*nats.Queue, error) {
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Options{
		Concurrency:        cfg.WorkerConcurrency,
		ClientName:         clientName,
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
	if err != nil {
		return nil, fmt.Errorf("init task queue: %w", err)
	}
	return queue, nil
}

func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	files, err := localfs.New(cfg.CDRRoot)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cdr storage: %w", err)
	}

	queue, err := NewQueue(cfg, service)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	pipelineMetrics := metrics.NewPipelineMetrics(service)

	docs := postgres.NewDocumentRepository(db)
	badCases := postgres.NewBadCaseRepository(db)
	subscribers := postgres.NewSubscriberRepository(db)

	billingClient := billing.New(billing.Config{
		BaseURL:            cfg.BillingBaseURL,
		AppID:              cfg.BillingAppID,
		AppSecret:          cfg.BillingAppSecret,
		Locale:             cfg.BillingLocale,
		Timeout:            cfg.BillingTimeout(),
		InsecureSkipVerify: cfg.BillingInsecureSkipVerify,
		RateLimitRPS:       cfg.BillingRateLimitRPS,
	}).WithObserver(pipelineMetrics)
	billingAPI := billing.NewRetryingClient(billingClient, billing.RetryConfig{
		MaxRetries:     cfg.BillingMaxRetries,
		Delay:          cfg.BillingRetryDelay(),
		BreakerEnabled: cfg.BillingBreakerEnabled,
	}).WithRetryHook(pipelineMetrics.RecordBillingRetry)

	reconcileUC := usecase.NewReconcileUseCase(billingAPI, subscribers, badCases, logger).
		WithObserver(pipelineMetrics)
	scanUC := usecase.NewScanUseCase(files, docs, queue, logger)
	processUC := usecase.NewProcessDocumentUseCase(
		docs, files, cdr.NewParser(logger), reconcileUC, cfg.ReconcileConcurrency, logger,
	).WithObserver(pipelineMetrics).WithRunLease(cfg.DocumentLease())
	retryUC := usecase.NewRetryUseCase(docs, badCases, files, queue, reconcileUC, logger)
	maintenanceUC := usecase.NewMaintenanceUseCase(docs, files, scanUC, queue, cfg.Retention(), 0, logger)
	tasks := usecase.NewTaskRunner(scanUC, processUC, retryUC, maintenanceUC, queue, cfg.TaskTimeout(), logger).
		WithObserver(pipelineMetrics)

	return &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Queue:   queue,
		Metrics: pipelineMetrics,

		Documents: docs,
		BadCases:  badCases,

		ScanUC:        scanUC,
		ProcessUC:     processUC,
		ReconcileUC:   reconcileUC,
		RetryUC:       retryUC,
		MaintenanceUC: maintenanceUC,
		ReportUC:      usecase.NewReportUseCase(docs, badCases),
		Tasks:         tasks,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
