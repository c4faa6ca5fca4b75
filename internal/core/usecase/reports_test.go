package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

func TestReportUseCase(t *testing.T) {
	docs := newDocRepoFake(
		domain.Document{ID: "doc-1", Status: domain.StatusSuccess, Counters: domain.Counters{Total: 4, Processed: 4, Success: 3, Failed: 1}},
		domain.Document{ID: "doc-2", Status: domain.StatusFailed},
	)
	badCases := newBadCaseRepoFake(
		domain.BadCase{ID: "bc-1", DocumentID: "doc-1"},
		domain.BadCase{ID: "bc-2", DocumentID: "doc-2"},
	)
	uc := NewReportUseCase(docs, badCases)
	ctx := context.Background()

	failed, err := uc.ListDocuments(ctx, domain.StatusFailed, 10)
	if err != nil || len(failed) != 1 || failed[0].ID != "doc-2" {
		t.Fatalf("unexpected failed list %+v err=%v", failed, err)
	}
	if _, err := uc.ListDocuments(ctx, "bogus", 10); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown status, got %v", err)
	}

	list, err := uc.ListBadCasesByDocument(ctx, "doc-1")
	if err != nil || len(list) != 1 || list[0].ID != "bc-1" {
		t.Fatalf("unexpected bad cases %+v err=%v", list, err)
	}
	if _, err := uc.ListBadCasesByDocument(ctx, "missing"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	stats, err := uc.DocumentStats(ctx)
	if err != nil {
		t.Fatalf("DocumentStats returned error: %v", err)
	}
	if stats.TotalDocuments != 2 || stats.SuccessRate != 75 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if _, err := uc.GetBadCase(ctx, "bc-2"); err != nil {
		t.Fatalf("GetBadCase returned error: %v", err)
	}
	if _, err := uc.GetDocument(ctx, "missing"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
