package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	file_prefix TEXT NOT NULL DEFAULT '',
	record_type TEXT NOT NULL DEFAULT 'unknown',
	host_node TEXT NOT NULL DEFAULT 'unknown',
	cdr_type TEXT NOT NULL DEFAULT 'unknown',
	version TEXT NOT NULL DEFAULT 'unknown',
	file_date TEXT NOT NULL DEFAULT 'unknown',
	status TEXT NOT NULL,
	total_iccid_count INTEGER NOT NULL DEFAULT 0,
	processed_iccid_count INTEGER NOT NULL DEFAULT 0,
	success_iccid_count INTEGER NOT NULL DEFAULT 0,
	failed_iccid_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	run_id TEXT,
	lease_expires_at TIMESTAMPTZ,
	CONSTRAINT documents_processed_le_total CHECK (processed_iccid_count <= total_iccid_count)
);

ALTER TABLE documents ADD COLUMN IF NOT EXISTS run_id TEXT;
ALTER TABLE documents ADD COLUMN IF NOT EXISTS lease_expires_at TIMESTAMPTZ;

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_file_path ON documents(file_path);
CREATE INDEX IF NOT EXISTS idx_documents_processed_at ON documents(processed_at) WHERE status = 'success';

CREATE TABLE IF NOT EXISTS bad_cases (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	iccid TEXT NOT NULL,
	api_type TEXT NOT NULL,
	trans_id TEXT,
	status_code INTEGER,
	response_data JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_retry_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, iccid, api_type)
);

CREATE INDEX IF NOT EXISTS idx_bad_cases_iccid ON bad_cases(iccid);

CREATE TABLE IF NOT EXISTS subscribers (
	id BIGSERIAL PRIMARY KEY,
	iccid TEXT NOT NULL UNIQUE,
	user_id BIGINT,
	cust_id BIGINT,
	acct_id BIGINT,
	paid_flag TEXT,
	imsi TEXT,
	msisdn TEXT,
	brand TEXT,
	rateplan_id TEXT,
	life_cycle TEXT,
	life_cycle_time TEXT,
	suspend_reason TEXT,
	active_type TEXT,
	active_time TEXT,
	active_deadline TEXT,
	hlr_state TEXT,
	validity_unit TEXT,
	validity_time BIGINT,
	eff_time TEXT,
	exp_time TEXT,
	create_time TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id BIGSERIAL PRIMARY KEY,
	subscription_id TEXT NOT NULL UNIQUE,
	subscriber_id BIGINT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
	user_id BIGINT,
	acct_id BIGINT,
	brand TEXT,
	product_id TEXT,
	product_flag TEXT,
	status TEXT,
	status_time TEXT,
	active_deadline TEXT,
	validity_unit TEXT,
	validity_time BIGINT,
	eff_time TEXT,
	exp_time TEXT,
	create_time TEXT,
	priority TEXT,
	change_reason TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_subscriber ON subscriptions(subscriber_id);

CREATE TABLE IF NOT EXISTS usage_records (
	id BIGSERIAL PRIMARY KEY,
	usage_date TEXT NOT NULL,
	subscription_pk BIGINT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
	subscription_id TEXT NOT NULL,
	product_id TEXT NOT NULL,
	usage_type TEXT NOT NULL DEFAULT 'dat',
	call_type TEXT,
	visit_mcc TEXT,
	visit_mnc TEXT NOT NULL DEFAULT '',
	usage BIGINT,
	unit TEXT NOT NULL DEFAULT 'Byte',
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (usage_date, subscription_id, product_id, visit_mnc)
);
`

// EnsureSchema creates every table used by the pipeline.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2024011501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func placeholders(start, n int) string {
	out := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '$')
		out = append(out, []byte(fmt.Sprint(start+i))...)
	}
	return string(out)
}
