package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

func migrations() []migration {
	return []migration{
		{version: 1, name: "initial_schema", stmts: []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				id UUID PRIMARY KEY,
				business_central_job_id TEXT NOT NULL UNIQUE,
				job_title TEXT NOT NULL DEFAULT '',
				customer_name TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'PENDING',
				last_processed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS verification_requests (
				id UUID PRIMARY KEY,
				job_no TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'PENDING',
				requested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				result_at TIMESTAMPTZ,
				message TEXT NOT NULL DEFAULT '',
				discrepancies_json JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_verification_requests_job_no
				ON verification_requests (job_no, requested_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_verification_requests_status
				ON verification_requests (status, updated_at)`,
			`CREATE TABLE IF NOT EXISTS job_documents (
				id BIGSERIAL PRIMARY KEY,
				job_no TEXT NOT NULL,
				file_name TEXT NOT NULL,
				document_type TEXT NOT NULL DEFAULT 'UNCLASSIFIED',
				classified_document_type TEXT,
				content_type TEXT NOT NULL DEFAULT '',
				document_data BYTEA NOT NULL,
				source_url TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				CONSTRAINT job_documents_job_no_file_name_key UNIQUE (job_no, file_name)
			)`,
			`CREATE TABLE IF NOT EXISTS activity_log (
				id BIGSERIAL PRIMARY KEY,
				event_type TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				related_job_id TEXT,
				user_identifier TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_activity_log_job
				ON activity_log (related_job_id, created_at DESC)`,
		}},
		{version: 2, name: "rate_limit_buckets", stmts: []string{
			`CREATE TABLE IF NOT EXISTS rate_limit_buckets (
				bucket_key TEXT PRIMARY KEY,
				capacity DOUBLE PRECISION NOT NULL,
				refill_rate DOUBLE PRECISION NOT NULL,
				tokens DOUBLE PRECISION NOT NULL,
				last_refill TIMESTAMPTZ NOT NULL
			)`,
		}},
		{version: 3, name: "document_page_stats", stmts: []string{
			`ALTER TABLE job_documents ADD COLUMN IF NOT EXISTS page_count INT NOT NULL DEFAULT 0`,
			`ALTER TABLE job_documents ADD COLUMN IF NOT EXISTS size_bytes BIGINT NOT NULL DEFAULT 0`,
		}},
	}
}

// Migrate applies pending schema migrations. Versions already recorded in
// schema_migrations are skipped, so it is safe to run at every startup.
func Migrate(ctx context.Context, pool PgxPool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("op=postgres.Migrate: create schema_migrations: %w", err)
	}

	for _, m := range migrations() {
		if err := runMigration(ctx, pool, m); err != nil {
			return fmt.Errorf("op=postgres.Migrate: migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func runMigration(ctx context.Context, pool PgxPool, m migration) error {
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, m.version).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
