package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
)

type ReportUseCase struct {
	docs     ports.DocumentRepository
	badCases ports.BadCaseRepository
}

func NewReportUseCase(docs ports.DocumentRepository, badCases ports.BadCaseRepository) *ReportUseCase {
	return &ReportUseCase{docs: docs, badCases: badCases}
}

func (uc *ReportUseCase) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := uc.docs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (uc *ReportUseCase) ListDocuments(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error) {
	if status != "" && !status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list documents", fmt.Errorf("unknown status %q", status))
	}
	docs, err := uc.docs.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (uc *ReportUseCase) GetBadCase(ctx context.Context, id string) (*domain.BadCase, error) {
	bc, err := uc.badCases.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get bad case: %w", err)
	}
	return bc, nil
}

func (uc *ReportUseCase) ListBadCasesByDocument(ctx context.Context, documentID string) ([]domain.BadCase, error) {
	if _, err := uc.docs.GetByID(ctx, documentID); err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	out, err := uc.badCases.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list bad cases: %w", err)
	}
	return out, nil
}

func (uc *ReportUseCase) DocumentStats(ctx context.Context) (domain.DocumentStats, error) {
	stats, err := uc.docs.Stats(ctx)
	if err != nil {
		return domain.DocumentStats{}, fmt.Errorf("document stats: %w", err)
	}
	return stats, nil
}

func (uc *ReportUseCase) BadCaseStats(ctx context.Context) (domain.BadCaseStats, error) {
	stats, err := uc.badCases.Stats(ctx)
	if err != nil {
		return domain.BadCaseStats{}, fmt.Errorf("bad case stats: %w", err)
	}
	return stats, nil
}
