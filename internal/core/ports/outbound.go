package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

// DocumentRepository persists document lifecycle state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	FindByFilePath(ctx context.Context, path string) (*domain.Document, error)
	ListByStatus(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error)
	// ClaimRun moves a claimable document to processing owned by run. A document held by
	// a live run, or one in a terminal state, yields ErrInvalidTransition.
	ClaimRun(ctx context.Context, id string, run domain.Run) error
	// StartRun sets the ICCID total and resets counters; the calls below apply only
	// while run still owns the document and extend its lease to run.ExpiresAt.
	StartRun(ctx context.Context, id string, run domain.Run, total int) error
	IncrementProgress(ctx context.Context, id string, run domain.Run, success bool) (domain.Counters, error)
	// FinishRun settles the document in a terminal status and drops ownership.
	FinishRun(ctx context.Context, id, runID string, status domain.DocumentStatus, errMessage string) error
	// ReleaseRun expires the lease of an interrupted run so the next claim can resume at once.
	ReleaseRun(ctx context.Context, id, runID string) error
	// ResetForRetry moves a failed document back to pending with cleared counters.
	ResetForRetry(ctx context.Context, id, filePath string) error
	UpdateFilePath(ctx context.Context, id, filePath string) error
	DeleteSucceededBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (domain.DocumentStats, error)
}

// BadCaseRepository persists failed billing lookups.
type BadCaseRepository interface {
	Record(ctx context.Context, bc *domain.BadCase) error
	GetByID(ctx context.Context, id string) (*domain.BadCase, error)
	ListByDocument(ctx context.Context, documentID string) ([]domain.BadCase, error)
	IncrementRetry(ctx context.Context, id string, at time.Time) error
	Stats(ctx context.Context) (domain.BadCaseStats, error)
}

// SubscriberStore runs reconciliation writes for one ICCID atomically.
type SubscriberStore interface {
	WithinTx(ctx context.Context, fn func(tx SubscriberTx) error) error
}

// SubscriberTx is the set of entity writes available inside one reconciliation transaction.
type SubscriberTx interface {
	UpsertSubscriber(ctx context.Context, sub domain.Subscriber) (domain.Subscriber, error)
	GetSubscriberByICCID(ctx context.Context, iccid string) (*domain.Subscriber, error)
	UpsertSubscription(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error)
	EnsureSubscription(ctx context.Context, placeholder domain.Subscription) (domain.Subscription, error)
	// InsertUsage reports false when the record already exists.
	InsertUsage(ctx context.Context, usage domain.UsageRecord) (bool, error)
}

// BillingAPI queries the upstream billing system. Failures are carried inside the response.
type BillingAPI interface {
	QueryUser(ctx context.Context, iccid string) *domain.BillingResponse
	QuerySubscriptions(ctx context.Context, iccid string) *domain.BillingResponse
	QueryDailyUsage(ctx context.Context, iccid string, query domain.UsageQuery) *domain.BillingResponse
}

// FileStore owns the intake / processing / success / failed directory layout.
type FileStore interface {
	ListIntake(ctx context.Context) ([]domain.StoredFile, error)
	ListProcessing(ctx context.Context) ([]domain.StoredFile, error)
	Claim(ctx context.Context, name string) (domain.StoredFile, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Relocate moves a managed file into the directory owned by status and returns its new path.
	Relocate(ctx context.Context, path string, to domain.DocumentStatus) (string, error)
	Exists(ctx context.Context, path string) bool
}

// CDRParser extracts accepted rows from a CDR file.
type CDRParser interface {
	Parse(ctx context.Context, r io.Reader) ([]domain.CDRRecord, error)
}

// TaskQueue publishes/consumes pipeline tasks.
type TaskQueue interface {
	Publish(ctx context.Context, task domain.Task) error
	Subscribe(ctx context.Context, handler func(context.Context, domain.Task) error) error
}

// PipelineObserver receives pipeline events for metrics.
type PipelineObserver interface {
	ObserveICCID(success bool, duration time.Duration)
	ObserveDocumentOutcome(status domain.DocumentStatus)
}
