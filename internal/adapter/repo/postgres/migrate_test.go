package postgres_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/repo/postgres"
)

func TestMigrate_AppliesAllOnFreshDatabase(t *testing.T) {
	var txs []*fakeTx
	pool := &fakePool{
		queryRowFn: func(_ string, _ []any) pgx.Row {
			// no migration recorded yet
			return fakeRow{scan: func(dest ...any) error {
				*dest[0].(*int) = 0
				return nil
			}}
		},
		beginFn: func() (pgx.Tx, error) {
			tx := &fakeTx{}
			txs = append(txs, tx)
			return tx, nil
		},
	}

	require.NoError(t, postgres.Migrate(context.Background(), pool))

	// one transaction per migration, each committed
	require.Len(t, txs, 3)
	for _, tx := range txs {
		assert.True(t, tx.committed)
		// last statement in each records the version
		last := tx.calls[len(tx.calls)-1]
		assert.Contains(t, last.sql, "INSERT INTO schema_migrations")
	}

	// initial schema creates the core tables
	var ddl string
	for _, c := range txs[0].calls {
		ddl += c.sql + "\n"
	}
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS jobs")
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS verification_requests")
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS job_documents")
	assert.Contains(t, ddl, "UNIQUE (job_no, file_name)")
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS activity_log")
}

func TestMigrate_SkipsAppliedVersions(t *testing.T) {
	begins := 0
	pool := &fakePool{
		queryRowFn: func(_ string, _ []any) pgx.Row {
			return fakeRow{scan: func(dest ...any) error {
				*dest[0].(*int) = 1
				return nil
			}}
		},
		beginFn: func() (pgx.Tx, error) {
			begins++
			return &fakeTx{}, nil
		},
	}

	require.NoError(t, postgres.Migrate(context.Background(), pool))
	assert.Zero(t, begins)
}

func TestMigrate_StatementFailureRollsBack(t *testing.T) {
	tx := &fakeTx{
		execFn: func(_ string, _ []any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, assert.AnError
		},
	}
	pool := &fakePool{
		queryRowFn: func(_ string, _ []any) pgx.Row {
			return fakeRow{scan: func(dest ...any) error {
				*dest[0].(*int) = 0
				return nil
			}}
		},
		beginFn: func() (pgx.Tx, error) { return tx, nil },
	}

	err := postgres.Migrate(context.Background(), pool)
	require.Error(t, err)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}
