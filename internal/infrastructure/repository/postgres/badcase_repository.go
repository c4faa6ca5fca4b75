package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

type BadCaseRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewBadCaseRepository(db *sql.DB) *BadCaseRepository {
	return &BadCaseRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const badCaseColumns = `id, document_id, iccid, api_type, trans_id, status_code, response_data, error_message,
	retry_count, last_retry_at, created_at, updated_at`

// Record inserts a bad case or, for an existing (document, iccid, api type) triple,
// refreshes its failure details in place.
func (r *BadCaseRepository) Record(ctx context.Context, bc *domain.BadCase) error {
	if bc.ID == "" {
		bc.ID = uuid.NewString()
	}
	now := r.now()
	var transID *string
	if bc.TransID != "" {
		transID = &bc.TransID
	}
	var payload any
	if len(bc.ResponseData) > 0 {
		payload = []byte(bc.ResponseData)
	}

	err := r.db.QueryRowContext(ctx, `
INSERT INTO bad_cases (id, document_id, iccid, api_type, trans_id, status_code, response_data, error_message, retry_count, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,$9)
ON CONFLICT (document_id, iccid, api_type) DO UPDATE SET
	trans_id = EXCLUDED.trans_id,
	status_code = EXCLUDED.status_code,
	response_data = EXCLUDED.response_data,
	error_message = EXCLUDED.error_message,
	updated_at = EXCLUDED.updated_at
RETURNING id, retry_count, created_at, updated_at
`, bc.ID, bc.DocumentID, bc.ICCID, string(bc.APIType), transID, bc.StatusCode, payload, bc.ErrorMessage, now,
	).Scan(&bc.ID, &bc.RetryCount, &bc.CreatedAt, &bc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record bad case: %w", err)
	}
	return nil
}

func (r *BadCaseRepository) GetByID(ctx context.Context, id string) (*domain.BadCase, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+badCaseColumns+` FROM bad_cases WHERE id = $1`, id)
	bc, err := scanBadCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBadCaseNotFound, "get bad case", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan bad case: %w", err)
	}
	return &bc, nil
}

func (r *BadCaseRepository) ListByDocument(ctx context.Context, documentID string) ([]domain.BadCase, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+badCaseColumns+`
FROM bad_cases
WHERE document_id = $1
ORDER BY iccid, api_type
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list bad cases: %w", err)
	}
	defer rows.Close()

	out := make([]domain.BadCase, 0)
	for rows.Next() {
		bc, err := scanBadCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bad case: %w", err)
		}
		out = append(out, bc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bad cases: %w", err)
	}
	return out, nil
}

// IncrementRetry consumes one manual retry. The limit is checked in the same
// statement so concurrent retries cannot exceed it.
func (r *BadCaseRepository) IncrementRetry(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE bad_cases
SET retry_count = retry_count + 1, last_retry_at = $2, updated_at = $2
WHERE id = $1 AND retry_count < $3
`, id, at, domain.MaxBadCaseRetries)
	if err != nil {
		return fmt.Errorf("increment bad case retry: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		var count int
		err := r.db.QueryRowContext(ctx, `SELECT retry_count FROM bad_cases WHERE id = $1`, id).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrBadCaseNotFound, "increment bad case retry", fmt.Errorf("id=%s", id))
		}
		if err != nil {
			return fmt.Errorf("load bad case retry count: %w", err)
		}
		return domain.WrapError(domain.ErrRetryExhausted, "increment bad case retry", fmt.Errorf("retry_count=%d", count))
	}
	return nil
}

func (r *BadCaseRepository) Stats(ctx context.Context) (domain.BadCaseStats, error) {
	stats := domain.BadCaseStats{ErrorByStatusCode: map[string]int{}}
	err := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE api_type = 'user'),
	COUNT(*) FILTER (WHERE api_type = 'subscription'),
	COUNT(*) FILTER (WHERE api_type = 'usage'),
	COUNT(*) FILTER (WHERE retry_count < $1)
FROM bad_cases
`, domain.MaxBadCaseRetries).Scan(
		&stats.TotalBadCases, &stats.UserAPIErrors, &stats.SubscriptionAPIErrors, &stats.UsageAPIErrors, &stats.RetryableCases,
	)
	if err != nil {
		return domain.BadCaseStats{}, fmt.Errorf("bad case stats: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT status_code, COUNT(*)
FROM bad_cases
GROUP BY status_code
`)
	if err != nil {
		return domain.BadCaseStats{}, fmt.Errorf("bad case status codes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code sql.NullInt64
		var count int
		if err := rows.Scan(&code, &count); err != nil {
			return domain.BadCaseStats{}, fmt.Errorf("scan status code: %w", err)
		}
		key := "none"
		if code.Valid {
			key = strconv.FormatInt(code.Int64, 10)
		}
		stats.ErrorByStatusCode[key] = count
	}
	if err := rows.Err(); err != nil {
		return domain.BadCaseStats{}, fmt.Errorf("iterate status codes: %w", err)
	}
	return stats, nil
}

func scanBadCase(row rowScanner) (domain.BadCase, error) {
	var bc domain.BadCase
	var apiType string
	var transID sql.NullString
	var payload []byte
	err := row.Scan(
		&bc.ID, &bc.DocumentID, &bc.ICCID, &apiType, &transID, &bc.StatusCode, &payload, &bc.ErrorMessage,
		&bc.RetryCount, &bc.LastRetryAt, &bc.CreatedAt, &bc.UpdatedAt,
	)
	if err != nil {
		return domain.BadCase{}, err
	}
	bc.APIType = domain.APIType(apiType)
	bc.TransID = transID.String
	if len(payload) > 0 {
		bc.ResponseData = payload
	}
	return bc, nil
}
