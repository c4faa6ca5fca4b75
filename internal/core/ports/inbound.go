package ports

import (
	"context"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

// DocumentScanner discovers and claims new CDR files.
type DocumentScanner interface {
	ScanNewFiles(ctx context.Context) (domain.ScanReport, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// Reconciler reconciles one ICCID against the billing system for a document.
type Reconciler interface {
	Reconcile(ctx context.Context, documentID, iccid string) (bool, string)
}

// RetryService re-drives failed documents and bad cases.
type RetryService interface {
	RetryDocument(ctx context.Context, documentID string) error
	RetryFailedDocuments(ctx context.Context) (int, error)
	RetryBadCase(ctx context.Context, badCaseID string) (bool, string, error)
}

// MaintenanceService runs retention and consistency sweeps.
type MaintenanceService interface {
	SweepSucceeded(ctx context.Context) (int64, error)
	ReconcileOrphans(ctx context.Context) (domain.OrphanReport, error)
}

// TaskHandler executes one queued task.
type TaskHandler interface {
	Handle(ctx context.Context, task domain.Task) error
}

// ReportReader is the read model behind operator endpoints.
type ReportReader interface {
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error)
	GetBadCase(ctx context.Context, id string) (*domain.BadCase, error)
	ListBadCasesByDocument(ctx context.Context, documentID string) ([]domain.BadCase, error)
	DocumentStats(ctx context.Context) (domain.DocumentStats, error)
	BadCaseStats(ctx context.Context) (domain.BadCaseStats, error)
}
