package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow implements pgx.Row over a scan callback.
type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func errRow(err error) fakeRow {
	return fakeRow{scan: func(_ ...any) error { return err }}
}

// fakeRows implements pgx.Rows over a list of scan callbacks.
type fakeRows struct {
	idx   int
	scans []func(dest ...any) error
	err   error
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.scans) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(dest ...any) error { return r.scans[r.idx-1](dest...) }
func (r *fakeRows) Close()                 {}
func (r *fakeRows) Err() error             { return r.err }

func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

// recordedCall captures one statement issued to the fake pool or tx.
type recordedCall struct {
	sql  string
	args []any
}

// fakePool implements postgres.PgxPool for tests. Behaviors default to
// harmless values and can be overridden per call via the fn fields.
type fakePool struct {
	execFn     func(sql string, args []any) (pgconn.CommandTag, error)
	queryRowFn func(sql string, args []any) pgx.Row
	queryFn    func(sql string, args []any) (pgx.Rows, error)
	beginFn    func() (pgx.Tx, error)

	calls []recordedCall
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.calls = append(p.calls, recordedCall{sql: sql, args: args})
	if p.execFn != nil {
		return p.execFn(sql, args)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.calls = append(p.calls, recordedCall{sql: sql, args: args})
	if p.queryRowFn != nil {
		return p.queryRowFn(sql, args)
	}
	return errRow(errors.New("no row configured"))
}

func (p *fakePool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.calls = append(p.calls, recordedCall{sql: sql, args: args})
	if p.queryFn != nil {
		return p.queryFn(sql, args)
	}
	return &fakeRows{}, nil
}

func (p *fakePool) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginFn != nil {
		return p.beginFn()
	}
	return &fakeTx{}, nil
}

// fakeTx implements pgx.Tx with recorded statements.
type fakeTx struct {
	execFn     func(sql string, args []any) (pgconn.CommandTag, error)
	queryRowFn func(sql string, args []any) pgx.Row

	calls      []recordedCall
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Begin(_ context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(_ context.Context) error {
	t.committed = true
	return t.commitErr
}
func (t *fakeTx) Rollback(_ context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *fakeTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.calls = append(t.calls, recordedCall{sql: sql, args: args})
	if t.execFn != nil {
		return t.execFn(sql, args)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}
func (t *fakeTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.calls = append(t.calls, recordedCall{sql: sql, args: args})
	return &fakeRows{}, nil
}
func (t *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.calls = append(t.calls, recordedCall{sql: sql, args: args})
	if t.queryRowFn != nil {
		return t.queryRowFn(sql, args)
	}
	return errRow(errors.New("no row configured"))
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }
