package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const documentInsertColumns = `id, filename, file_path, file_size, file_prefix, record_type, host_node, cdr_type, version, file_date,
	status, total_iccid_count, processed_iccid_count, success_iccid_count, failed_iccid_count,
	error_message, created_at, updated_at, processed_at`

const documentColumns = documentInsertColumns + `, COALESCE(run_id, ''), lease_expires_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentInsertColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
`,
		doc.ID, doc.Filename, doc.FilePath, doc.FileSize, doc.FilePrefix, doc.RecordType, doc.HostNode, doc.CDRType,
		doc.Version, doc.FileDate, string(doc.Status), doc.Counters.Total, doc.Counters.Processed,
		doc.Counters.Success, doc.Counters.Failed, doc.Error, doc.CreatedAt, doc.UpdatedAt, doc.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

// FindByFilePath returns the most recent document for path.
func (r *DocumentRepository) FindByFilePath(ctx context.Context, path string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE file_path = $1
ORDER BY created_at DESC
LIMIT 1
`, path)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "find document by path", fmt.Errorf("path=%s", path))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

// ListByStatus lists documents newest first. An empty status lists all documents.
func (r *DocumentRepository) ListByStatus(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + documentColumns + ` FROM documents `
	args := []any{limit}
	if status != "" {
		query += "WHERE status = $2\n"
		args = append(args, string(status))
	}
	query += "ORDER BY created_at DESC LIMIT $1"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// ClaimRun is a compare-and-set on status and lease: a pending document, or a
// processing one whose owner's lease has run out, becomes owned by run.
func (r *DocumentRepository) ClaimRun(ctx context.Context, id string, run domain.Run) error {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = 'processing',
	run_id = $2,
	lease_expires_at = $3,
	updated_at = $4
WHERE id = $1
	AND (status = 'pending'
		OR (status = 'processing' AND (lease_expires_at IS NULL OR lease_expires_at <= $4)))
`, id, run.ID, run.ExpiresAt, now)
	if err != nil {
		return fmt.Errorf("claim document run: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return r.explainNotOwned(ctx, id, run.ID, "claim document run")
	}
	return nil
}

// explainNotOwned turns a zero-row update into a domain error: missing document,
// terminal document or a document owned by a different run.
func (r *DocumentRepository) explainNotOwned(ctx context.Context, id, runID, op string) error {
	var (
		status string
		owner  string
		lease  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT status, COALESCE(run_id, ''), lease_expires_at FROM documents WHERE id = $1`, id,
	).Scan(&status, &owner, &lease)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id=%s", id))
		}
		return fmt.Errorf("load document status: %w", err)
	}
	if status == string(domain.StatusProcessing) && owner != "" && owner != runID {
		until := "unknown"
		if lease.Valid {
			until = lease.Time.Format(time.RFC3339)
		}
		return domain.WrapError(domain.ErrInvalidTransition, op, fmt.Errorf("document %s is owned by run %s until %s", id, owner, until))
	}
	return domain.WrapError(domain.ErrInvalidTransition, op, fmt.Errorf("document %s is %s", id, status))
}

// StartRun sets the ICCID total for the owning run and resets its counters.
func (r *DocumentRepository) StartRun(ctx context.Context, id string, run domain.Run, total int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET total_iccid_count = $3,
	processed_iccid_count = 0,
	success_iccid_count = 0,
	failed_iccid_count = 0,
	lease_expires_at = $4,
	updated_at = $5
WHERE id = $1 AND status = 'processing' AND run_id = $2
`, id, run.ID, total, run.ExpiresAt, r.now())
	if err != nil {
		return fmt.Errorf("start document run: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return r.explainNotOwned(ctx, id, run.ID, "start document run")
	}
	return nil
}

// IncrementProgress counts one reconciled ICCID in a single statement so
// processed == success + failed holds after every call. It also renews the lease.
func (r *DocumentRepository) IncrementProgress(ctx context.Context, id string, run domain.Run, success bool) (domain.Counters, error) {
	successDelta, failedDelta := 0, 1
	if success {
		successDelta, failedDelta = 1, 0
	}

	var counters domain.Counters
	err := r.db.QueryRowContext(ctx, `
UPDATE documents
SET processed_iccid_count = processed_iccid_count + 1,
	success_iccid_count = success_iccid_count + $3,
	failed_iccid_count = failed_iccid_count + $4,
	lease_expires_at = $5,
	updated_at = $6
WHERE id = $1 AND run_id = $2 AND status = 'processing' AND processed_iccid_count < total_iccid_count
RETURNING total_iccid_count, processed_iccid_count, success_iccid_count, failed_iccid_count
`, id, run.ID, successDelta, failedDelta, run.ExpiresAt, r.now()).Scan(&counters.Total, &counters.Processed, &counters.Success, &counters.Failed)
	if err == nil {
		return counters, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Counters{}, fmt.Errorf("increment document progress: %w", err)
	}
	var owner string
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(run_id, '') FROM documents WHERE id = $1`, id).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Counters{}, domain.WrapError(domain.ErrDocumentNotFound, "increment progress", fmt.Errorf("id=%s", id))
		}
		return domain.Counters{}, fmt.Errorf("load document owner: %w", err)
	}
	if owner != run.ID {
		return domain.Counters{}, domain.WrapError(domain.ErrInvalidTransition, "increment progress", fmt.Errorf("run %s no longer owns document %s", run.ID, id))
	}
	return domain.Counters{}, domain.WrapError(domain.ErrInvalidInput, "increment progress", fmt.Errorf("document %s has no pending iccids", id))
}

// FinishRun records the terminal status of the owning run and clears ownership.
func (r *DocumentRepository) FinishRun(ctx context.Context, id, runID string, status domain.DocumentStatus, errMessage string) error {
	if !status.IsTerminal() || !domain.CanTransition(domain.StatusProcessing, status) {
		return domain.WrapError(domain.ErrInvalidTransition, "finish document run", fmt.Errorf("%q is not a terminal status", status))
	}
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $3,
	error_message = $4,
	processed_at = $5,
	updated_at = $5,
	run_id = NULL,
	lease_expires_at = NULL
WHERE id = $1 AND status = 'processing' AND run_id = $2
`, id, runID, string(status), errMessage, now)
	if err != nil {
		return fmt.Errorf("finish document run: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return r.explainNotOwned(ctx, id, runID, "finish document run")
	}
	return nil
}

// ReleaseRun expires the lease of runID; a no-op when another run took over.
func (r *DocumentRepository) ReleaseRun(ctx context.Context, id, runID string) error {
	now := r.now()
	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET lease_expires_at = $3, updated_at = $3
WHERE id = $1 AND run_id = $2 AND status = 'processing'
`, id, runID, now)
	if err != nil {
		return fmt.Errorf("release document run: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ResetForRetry(ctx context.Context, id, filePath string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = 'pending',
	error_message = '',
	processed_at = NULL,
	total_iccid_count = 0,
	processed_iccid_count = 0,
	success_iccid_count = 0,
	failed_iccid_count = 0,
	run_id = NULL,
	lease_expires_at = NULL,
	file_path = $2,
	updated_at = $3
WHERE id = $1 AND status = 'failed'
`, id, filePath, r.now())
	if err != nil {
		return fmt.Errorf("reset document: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return r.explainNotOwned(ctx, id, "", "reset document")
	}
	return nil
}

func (r *DocumentRepository) UpdateFilePath(ctx context.Context, id, filePath string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE documents SET file_path = $2, updated_at = $3 WHERE id = $1`, id, filePath, r.now())
	if err != nil {
		return fmt.Errorf("update document file path: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update file path", fmt.Errorf("id=%s", id))
	}
	return nil
}

// DeleteSucceededBefore removes successful documents processed before cutoff; bad cases cascade.
func (r *DocumentRepository) DeleteSucceededBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM documents
WHERE status = 'success' AND processed_at < $1
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete succeeded documents: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

func (r *DocumentRepository) Stats(ctx context.Context) (domain.DocumentStats, error) {
	var stats domain.DocumentStats
	err := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'pending'),
	COUNT(*) FILTER (WHERE status = 'processing'),
	COUNT(*) FILTER (WHERE status = 'success'),
	COUNT(*) FILTER (WHERE status = 'failed'),
	COALESCE(SUM(processed_iccid_count), 0),
	COALESCE(SUM(success_iccid_count), 0),
	COALESCE(SUM(failed_iccid_count), 0),
	COALESCE(AVG(EXTRACT(EPOCH FROM (processed_at - created_at))) FILTER (WHERE processed_at IS NOT NULL), 0)
FROM documents
`).Scan(
		&stats.TotalDocuments, &stats.PendingDocuments, &stats.ProcessingDocuments, &stats.SuccessDocuments,
		&stats.FailedDocuments, &stats.TotalICCIDProcessed, &stats.TotalICCIDSuccess, &stats.TotalICCIDFailed,
		&stats.AvgProcessingTime,
	)
	if err != nil {
		return domain.DocumentStats{}, fmt.Errorf("document stats: %w", err)
	}
	stats.ComputeSuccessRate()
	return stats, nil
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var status string
	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.FilePath, &doc.FileSize, &doc.FilePrefix, &doc.RecordType, &doc.HostNode,
		&doc.CDRType, &doc.Version, &doc.FileDate, &status, &doc.Counters.Total, &doc.Counters.Processed,
		&doc.Counters.Success, &doc.Counters.Failed, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt, &doc.ProcessedAt,
		&doc.RunID, &doc.LeaseExpiresAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	doc.Status = domain.DocumentStatus(status)
	return doc, nil
}
