package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
)

const (
	DefaultRetention  = 30 * 24 * time.Hour
	DefaultStaleAfter = time.Hour
)

type MaintenanceUseCase struct {
	docs       ports.DocumentRepository
	files      ports.FileStore
	scan       *ScanUseCase
	queue      ports.TaskQueue
	retention  time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewMaintenanceUseCase(
	docs ports.DocumentRepository,
	files ports.FileStore,
	scan *ScanUseCase,
	queue ports.TaskQueue,
	retention time.Duration,
	staleAfter time.Duration,
	logger *slog.Logger,
) *MaintenanceUseCase {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceUseCase{
		docs:       docs,
		files:      files,
		scan:       scan,
		queue:      queue,
		retention:  retention,
		staleAfter: staleAfter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SweepSucceeded deletes successful documents processed before the retention window.
func (uc *MaintenanceUseCase) SweepSucceeded(ctx context.Context) (int64, error) {
	cutoff := uc.now().Add(-uc.retention)
	deleted, err := uc.docs.DeleteSucceededBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep succeeded documents: %w", err)
	}
	uc.logger.Info("retention_sweep_completed", "deleted", deleted, "cutoff", cutoff)
	return deleted, nil
}

// ReconcileOrphans cross-checks processing/ against document rows:
// files without a row are adopted, files of terminal documents are relocated,
// and open documents that stopped making progress are enqueued again. A processing
// document is requeued only once its run lease has lapsed.
func (uc *MaintenanceUseCase) ReconcileOrphans(ctx context.Context) (domain.OrphanReport, error) {
	files, err := uc.files.ListProcessing(ctx)
	if err != nil {
		return domain.OrphanReport{}, fmt.Errorf("list processing: %w", err)
	}

	var report domain.OrphanReport
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := uc.reconcileFile(ctx, file, &report); err != nil {
			report.Failed++
			uc.logger.Error("orphan_reconcile_failed", "file_path", file.Path, "error", err)
		}
	}

	uc.logger.Info("orphan_sweep_completed",
		"adopted", report.Adopted,
		"relocated", report.Relocated,
		"requeued", report.Requeued,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

func (uc *MaintenanceUseCase) reconcileFile(ctx context.Context, file domain.StoredFile, report *domain.OrphanReport) error {
	doc, err := uc.docs.FindByFilePath(ctx, file.Path)
	if err != nil {
		if !domain.IsKind(err, domain.ErrDocumentNotFound) {
			return fmt.Errorf("find document: %w", err)
		}
		if _, err := uc.scan.register(ctx, file); err != nil {
			return fmt.Errorf("adopt orphan: %w", err)
		}
		report.Adopted++
		return nil
	}

	switch {
	case doc.Status.IsTerminal():
		newPath, err := uc.files.Relocate(ctx, file.Path, doc.Status)
		if err != nil {
			return fmt.Errorf("relocate file: %w", err)
		}
		if err := uc.docs.UpdateFilePath(ctx, doc.ID, newPath); err != nil {
			return fmt.Errorf("update file path: %w", err)
		}
		report.Relocated++
	case uc.stalled(doc):
		if err := enqueue(ctx, uc.queue, domain.Task{Type: domain.TaskProcessDocument, DocumentID: doc.ID}); err != nil {
			return err
		}
		report.Requeued++
	default:
		report.Skipped++
	}
	return nil
}

func (uc *MaintenanceUseCase) stalled(doc *domain.Document) bool {
	now := uc.now()
	if doc.Status == domain.StatusProcessing {
		return doc.Claimable(now)
	}
	return now.Sub(doc.UpdatedAt) >= uc.staleAfter
}
