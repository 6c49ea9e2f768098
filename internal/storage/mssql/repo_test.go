package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"claimscore/internal/storage"
)

type fakeResult int64

func (f fakeResult) LastInsertId() (int64, error) { return 0, errors.New("unsupported") }
func (f fakeResult) RowsAffected() (int64, error) { return int64(f), nil }

type fakeTx struct {
	queries    []string
	argCounts  []int
	committed  bool
	rolledBack bool
	execErr    error
}

func (f *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.queries = append(f.queries, query)
	f.argCounts = append(f.argCounts, len(args))
	return fakeResult(len(args) / len(storage.Columns)), nil
}

func (f *fakeTx) Commit() error   { f.committed = true; return nil }
func (f *fakeTx) Rollback() error { f.rolledBack = true; return nil }

type fakeDB struct {
	tx     *fakeTx
	ddl    []string
	closed bool
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.ddl = append(f.ddl, query)
	return fakeResult(0), nil
}

func (f *fakeDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	return f.tx, nil
}

func (f *fakeDB) Close() error { f.closed = true; return nil }

func TestInsertResults_BatchesAndDedupes(t *testing.T) {
	tx := &fakeTx{}
	repo := &Repo{db: &fakeDB{tx: tx}}

	rows := make([]storage.ResultRow, 0, batchRows+11)
	for i := 0; i < batchRows+10; i++ {
		rows = append(rows, storage.ResultRow{Index: i, Label: "No", Features: "{}", Fingerprint: "f"})
	}
	rows = append(rows, storage.ResultRow{Index: 3, Label: "dup"})

	run := storage.RunInfo{ID: "r1", CreatedAt: time.Now()}
	n, err := repo.InsertResults(context.Background(), "dbo.claim_predictions", run, rows)
	if err != nil {
		t.Fatalf("InsertResults: %v", err)
	}
	if n != int64(batchRows+10) {
		t.Fatalf("inserted %d, want %d", n, batchRows+10)
	}
	if len(tx.queries) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(tx.queries))
	}
	if tx.argCounts[1] != 10*len(storage.Columns) {
		t.Fatalf("second batch args = %d", tx.argCounts[1])
	}
	if !tx.committed {
		t.Fatalf("expected commit")
	}
}

func TestInsertResults_ErrorRollsBack(t *testing.T) {
	tx := &fakeTx{execErr: errors.New("deadlock")}
	repo := &Repo{db: &fakeDB{tx: tx}}

	_, err := repo.InsertResults(context.Background(), "t", storage.RunInfo{ID: "r"}, []storage.ResultRow{{Index: 0}})
	if err == nil || !strings.Contains(err.Error(), "deadlock") {
		t.Fatalf("expected wrapped exec error, got %v", err)
	}
	if tx.committed || !tx.rolledBack {
		t.Fatalf("expected rollback without commit")
	}
}

func TestEnsureTableAndClose(t *testing.T) {
	db := &fakeDB{}
	repo := &Repo{db: db}

	if err := repo.EnsureTable(context.Background(), "dbo.claim_predictions"); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if len(db.ddl) != 1 || !strings.HasPrefix(db.ddl[0], "IF OBJECT_ID(N'dbo.claim_predictions', N'U') IS NULL CREATE TABLE [dbo].[claim_predictions]") {
		t.Fatalf("unexpected DDL %v", db.ddl)
	}
	repo.Close()
	if !db.closed {
		t.Fatalf("expected Close to reach the handle")
	}
}

func TestBuildInsertSQL_NotExists(t *testing.T) {
	run := storage.RunInfo{ID: "r"}
	q, args := buildInsertSQL("claim_predictions", run, []storage.ResultRow{{Index: 0}, {Index: 1}})

	if !strings.HasPrefix(q, "INSERT INTO [claim_predictions] ([run_id], [row_index]") {
		t.Fatalf("unexpected prefix: %q", q)
	}
	if !strings.Contains(q, "(@p8, @p9, @p10, @p11, @p12, @p13, @p14)") {
		t.Fatalf("placeholder numbering wrong: %q", q)
	}
	if !strings.HasSuffix(q, "WHERE NOT EXISTS (SELECT 1 FROM [claim_predictions] x WHERE x.[run_id] = v.[run_id] AND x.[row_index] = v.[row_index])") {
		t.Fatalf("missing anti-join: %q", q)
	}
	if len(args) != 14 {
		t.Fatalf("expected 14 args, got %d", len(args))
	}
}

func TestMssqlTableIdent(t *testing.T) {
	if got := mssqlTableIdent("dbo.we]ird"); got != "[dbo].[we]]ird]" {
		t.Fatalf("mssqlTableIdent = %s", got)
	}
}
