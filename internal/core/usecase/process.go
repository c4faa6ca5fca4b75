package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
)

const allICCIDsFailed = "all ICCIDs failed"

// DefaultRunLease bounds how long a run may go without persisting progress before
// another run can take the document over. It must exceed the worst-case time of a
// single ICCID (three lookups, each with its retries and timeouts).
const DefaultRunLease = 15 * time.Minute

type ProcessDocumentUseCase struct {
	docs        ports.DocumentRepository
	files       ports.FileStore
	parser      ports.CDRParser
	reconciler  ports.Reconciler
	observer    ports.PipelineObserver
	concurrency int
	lease       time.Duration
	logger      *slog.Logger
	now         func() time.Time
	newRunID    func() string
}

func NewProcessDocumentUseCase(
	docs ports.DocumentRepository,
	files ports.FileStore,
	parser ports.CDRParser,
	reconciler ports.Reconciler,
	concurrency int,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		docs:        docs,
		files:       files,
		parser:      parser,
		reconciler:  reconciler,
		concurrency: concurrency,
		lease:       DefaultRunLease,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newRunID:    uuid.NewString,
	}
}

// WithRunLease overrides DefaultRunLease.
func (uc *ProcessDocumentUseCase) WithRunLease(lease time.Duration) *ProcessDocumentUseCase {
	if lease > 0 {
		uc.lease = lease
	}
	return uc
}

func (uc *ProcessDocumentUseCase) WithObserver(observer ports.PipelineObserver) *ProcessDocumentUseCase {
	uc.observer = observer
	return uc
}

// ProcessByID runs one document to a terminal state. ICCID failures are counted,
// not returned; an error is returned only when the document could not be settled.
// The run owns the document through a lease, so a concurrent or repeated call on a
// document that is being processed is rejected with ErrInvalidTransition.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	runID := uc.newRunID()
	if err := uc.docs.ClaimRun(ctx, documentID, uc.renew(runID)); err != nil {
		return fmt.Errorf("claim document: %w", err)
	}

	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}

	counters, err := uc.run(ctx, doc, runID)
	switch {
	case err == nil:
	case domain.IsKind(err, domain.ErrInvalidTransition):
		// Another run took the document over after our lease expired.
		uc.logger.Warn("document_run_superseded", "document_id", doc.ID, "run_id", runID, "error", err)
		return err
	case ctx.Err() != nil:
		// Leave the document in processing and hand it to the next claim.
		uc.release(ctx, doc.ID, runID)
		return fmt.Errorf("process document interrupted: %w", err)
	default:
		return uc.settle(ctx, doc, runID, domain.StatusFailed, err.Error())
	}

	outcome := counters.Outcome()
	message := ""
	if outcome == domain.StatusFailed {
		message = allICCIDsFailed
	}
	return uc.settle(ctx, doc, runID, outcome, message)
}

func (uc *ProcessDocumentUseCase) renew(runID string) domain.Run {
	return domain.Run{ID: runID, ExpiresAt: uc.now().Add(uc.lease)}
}

func (uc *ProcessDocumentUseCase) release(ctx context.Context, documentID, runID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := uc.docs.ReleaseRun(releaseCtx, documentID, runID); err != nil {
		uc.logger.Warn("document_run_release_failed", "document_id", documentID, "run_id", runID, "error", err)
	}
}

func (uc *ProcessDocumentUseCase) run(ctx context.Context, doc *domain.Document, runID string) (domain.Counters, error) {
	records, err := uc.readRecords(ctx, doc)
	if err != nil {
		return domain.Counters{}, err
	}

	iccids := domain.DistinctICCIDs(records)
	if len(iccids) == 0 {
		return domain.Counters{}, domain.WrapError(domain.ErrInvalidInput, "parse cdr file", errors.New("no valid CDR rows"))
	}
	if err := uc.docs.StartRun(ctx, doc.ID, uc.renew(runID), len(iccids)); err != nil {
		return domain.Counters{}, fmt.Errorf("start run: %w", err)
	}
	uc.logger.Info("document_processing_started",
		"document_id", doc.ID,
		"run_id", runID,
		"rows", len(records),
		"iccids", len(iccids),
	)

	return uc.reconcileAll(ctx, doc, runID, iccids)
}

func (uc *ProcessDocumentUseCase) readRecords(ctx context.Context, doc *domain.Document) ([]domain.CDRRecord, error) {
	reader, err := uc.files.Open(ctx, doc.FilePath)
	if err != nil {
		if domain.IsKind(err, domain.ErrFileNotFound) {
			return nil, domain.WrapError(domain.ErrFileNotFound, "open cdr file", fmt.Errorf("file not found: %s", doc.FilePath))
		}
		return nil, fmt.Errorf("open cdr file: %w", err)
	}
	defer reader.Close()

	records, err := uc.parser.Parse(ctx, reader)
	if err != nil {
		return nil, fmt.Errorf("parse cdr file: %w", err)
	}
	return records, nil
}

// reconcileAll runs a bounded pool of reconciliations and persists counters after each ICCID.
func (uc *ProcessDocumentUseCase) reconcileAll(ctx context.Context, doc *domain.Document, runID string, iccids []string) (domain.Counters, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)

	results := make(chan domain.Counters, len(iccids))
	for _, iccid := range iccids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ok, _ := uc.reconciler.Reconcile(gctx, doc.ID, iccid)
			counters, err := uc.docs.IncrementProgress(gctx, doc.ID, uc.renew(runID), ok)
			if err != nil {
				return fmt.Errorf("persist progress for %s: %w", iccid, err)
			}
			results <- counters
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Counters{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Counters{}, err
	}
	close(results)

	var last domain.Counters
	for counters := range results {
		if counters.Processed >= last.Processed {
			last = counters
		}
	}
	return last, nil
}

// settle records the terminal status, then relocates the file. A failed move is
// logged; the orphan sweep relocates files of terminal documents later.
func (uc *ProcessDocumentUseCase) settle(ctx context.Context, doc *domain.Document, runID string, status domain.DocumentStatus, message string) error {
	if err := uc.docs.FinishRun(ctx, doc.ID, runID, status, message); err != nil {
		return fmt.Errorf("set status=%s: %w", status, err)
	}
	if uc.observer != nil {
		uc.observer.ObserveDocumentOutcome(status)
	}

	newPath, err := uc.files.Relocate(ctx, doc.FilePath, status)
	if err != nil {
		uc.logger.Warn("document_relocate_failed", "document_id", doc.ID, "status", status, "error", err)
	} else if newPath != doc.FilePath {
		if err := uc.docs.UpdateFilePath(ctx, doc.ID, newPath); err != nil {
			uc.logger.Warn("document_path_update_failed", "document_id", doc.ID, "error", err)
		}
	}

	uc.logger.Info("document_processed", "document_id", doc.ID, "status", status, "error_message", message)
	return nil
}
