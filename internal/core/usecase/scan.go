package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
)

type ScanUseCase struct {
	files  ports.FileStore
	docs   ports.DocumentRepository
	queue  ports.TaskQueue
	logger *slog.Logger
	now    func() time.Time
}

func NewScanUseCase(files ports.FileStore, docs ports.DocumentRepository, queue ports.TaskQueue, logger *slog.Logger) *ScanUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanUseCase{
		files:  files,
		docs:   docs,
		queue:  queue,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ScanNewFiles claims every CSV in the intake directory. The file is moved into
// processing/ before its document row exists; a crash in between is repaired by
// the orphan sweep. One bad file never stops the scan.
func (uc *ScanUseCase) ScanNewFiles(ctx context.Context) (domain.ScanReport, error) {
	files, err := uc.files.ListIntake(ctx)
	if err != nil {
		return domain.ScanReport{}, fmt.Errorf("list intake: %w", err)
	}

	report := domain.ScanReport{Discovered: len(files), DocumentIDs: []string{}}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		doc, err := uc.claim(ctx, file)
		if err != nil {
			if domain.IsKind(err, domain.ErrFileNotFound) {
				uc.logger.Info("scan_file_already_claimed", "filename", file.Name)
				continue
			}
			report.Failed++
			uc.logger.Error("scan_file_failed", "filename", file.Name, "error", err)
			continue
		}
		report.Claimed++
		report.DocumentIDs = append(report.DocumentIDs, doc.ID)
	}

	uc.logger.Info("scan_completed",
		"discovered", report.Discovered,
		"claimed", report.Claimed,
		"failed", report.Failed,
	)
	return report, nil
}

func (uc *ScanUseCase) claim(ctx context.Context, file domain.StoredFile) (*domain.Document, error) {
	stored, err := uc.files.Claim(ctx, file.Name)
	if err != nil {
		return nil, fmt.Errorf("claim file: %w", err)
	}

	doc, err := uc.register(ctx, stored)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// register creates the pending document for a file already in processing/ and enqueues it.
func (uc *ScanUseCase) register(ctx context.Context, file domain.StoredFile) (*domain.Document, error) {
	now := uc.now()
	info := domain.ParseFilename(file.Name)
	doc := &domain.Document{
		ID:         uuid.NewString(),
		Filename:   file.Name,
		FilePath:   file.Path,
		FileSize:   file.Size,
		FilePrefix: info.Prefix,
		RecordType: info.RecordType,
		HostNode:   info.HostNode,
		CDRType:    info.CDRType,
		Version:    info.Version,
		FileDate:   info.FileDate,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := uc.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if err := enqueue(ctx, uc.queue, domain.Task{Type: domain.TaskProcessDocument, DocumentID: doc.ID}); err != nil {
		// The pending document is picked up again by the orphan sweep.
		uc.logger.Error("scan_enqueue_failed", "document_id", doc.ID, "error", err)
	}
	uc.logger.Info("document_registered", "document_id", doc.ID, "filename", doc.Filename, "file_date", doc.FileDate)
	return doc, nil
}

func enqueue(ctx context.Context, queue ports.TaskQueue, task domain.Task) error {
	task.EnqueuedAt = time.Now().UTC()
	if err := queue.Publish(ctx, task); err != nil {
		return fmt.Errorf("publish %s task: %w", task.Type, err)
	}
	return nil
}
