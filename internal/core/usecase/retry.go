package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
)

const retryFailedBatch = 1000

type RetryUseCase struct {
	docs       ports.DocumentRepository
	badCases   ports.BadCaseRepository
	files      ports.FileStore
	queue      ports.TaskQueue
	reconciler ports.Reconciler
	logger     *slog.Logger
	now        func() time.Time
}

func NewRetryUseCase(
	docs ports.DocumentRepository,
	badCases ports.BadCaseRepository,
	files ports.FileStore,
	queue ports.TaskQueue,
	reconciler ports.Reconciler,
	logger *slog.Logger,
) *RetryUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryUseCase{
		docs:       docs,
		badCases:   badCases,
		files:      files,
		queue:      queue,
		reconciler: reconciler,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RetryDocument resets a failed document to pending and enqueues it again.
// Its file is moved back into processing/ first.
func (uc *RetryUseCase) RetryDocument(ctx context.Context, documentID string) error {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Status != domain.StatusFailed {
		return domain.WrapError(domain.ErrInvalidTransition, "retry document", fmt.Errorf("document %s is %s", doc.ID, doc.Status))
	}

	path := doc.FilePath
	if uc.files.Exists(ctx, path) {
		moved, err := uc.files.Relocate(ctx, path, domain.StatusProcessing)
		if err != nil {
			return fmt.Errorf("restore document file: %w", err)
		}
		path = moved
	} else {
		uc.logger.Warn("retry_document_file_missing", "document_id", doc.ID, "file_path", path)
	}

	if err := uc.docs.ResetForRetry(ctx, doc.ID, path); err != nil {
		return fmt.Errorf("reset document: %w", err)
	}
	if err := enqueue(ctx, uc.queue, domain.Task{Type: domain.TaskProcessDocument, DocumentID: doc.ID}); err != nil {
		return err
	}
	uc.logger.Info("document_retry_enqueued", "document_id", doc.ID)
	return nil
}

// RetryFailedDocuments applies RetryDocument to every failed document and returns how many were re-enqueued.
func (uc *RetryUseCase) RetryFailedDocuments(ctx context.Context) (int, error) {
	docs, err := uc.docs.ListByStatus(ctx, domain.StatusFailed, retryFailedBatch)
	if err != nil {
		return 0, fmt.Errorf("list failed documents: %w", err)
	}

	retried := 0
	var errs []error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return retried, err
		}
		if err := uc.RetryDocument(ctx, doc.ID); err != nil {
			uc.logger.Warn("retry_document_failed", "document_id", doc.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		retried++
	}
	if len(errs) > 0 && retried == 0 {
		return 0, errors.Join(errs...)
	}
	return retried, nil
}

// RetryBadCase re-runs reconciliation for the bad case's ICCID. The retry budget is
// consumed atomically before any billing call.
func (uc *RetryUseCase) RetryBadCase(ctx context.Context, badCaseID string) (bool, string, error) {
	bc, err := uc.badCases.GetByID(ctx, badCaseID)
	if err != nil {
		return false, "", fmt.Errorf("fetch bad case by id: %w", err)
	}
	if !bc.CanRetry() {
		return false, "", domain.WrapError(domain.ErrRetryExhausted, "retry bad case", fmt.Errorf("retry_count=%d", bc.RetryCount))
	}
	if err := uc.badCases.IncrementRetry(ctx, bc.ID, uc.now()); err != nil {
		return false, "", fmt.Errorf("consume retry: %w", err)
	}

	ok, message := uc.reconciler.Reconcile(ctx, bc.DocumentID, bc.ICCID)
	uc.logger.Info("bad_case_retried", "bad_case_id", bc.ID, "iccid", bc.ICCID, "success", ok, "message", message)
	return ok, message, nil
}
