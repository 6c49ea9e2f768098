package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"claimscore/internal/storage"
)

// batchRows keeps one statement under SQL Server's 2100 parameter limit.
const batchRows = 250

func init() {
	storage.Register("mssql", New)
}

// Repo implements storage.ResultRepository for Microsoft SQL Server.
//
// Idempotency uses INSERT ... SELECT over a VALUES table with a NOT EXISTS
// anti-join. Unlike ON CONFLICT, that does not collapse duplicates inside
// one batch, so rows are deduplicated by index first.
type Repo struct {
	db dbConn
}

// New opens a "sqlserver" connection and validates it with a ping.
func New(ctx context.Context, cfg storage.Config) (storage.ResultRepository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTable creates the results table unless OBJECT_ID finds it.
func (r *Repo) EnsureTable(ctx context.Context, table string) error {
	ddl, err := buildCreateSQL(table)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", table, err)
	}
	return nil
}

// InsertResults inserts rows inside one transaction.
func (r *Repo) InsertResults(ctx context.Context, table string, run storage.RunInfo, rows []storage.ResultRow) (int64, error) {
	rows = storage.DedupeByIndex(rows)
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, batch := range storage.Batches(rows, batchRows) {
		q, args := buildInsertSQL(table, run, batch)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit: %w", err)
	}
	return total, nil
}

func buildCreateSQL(table string) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	return fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (`+
		`[run_id] NVARCHAR(64) NOT NULL, `+
		`[row_index] INT NOT NULL, `+
		`[prediction] TINYINT NOT NULL, `+
		`[label] NVARCHAR(64) NOT NULL, `+
		`[features] NVARCHAR(MAX) NOT NULL, `+
		`[fingerprint] CHAR(64) NOT NULL, `+
		`[created_at] DATETIMEOFFSET NOT NULL, `+
		`PRIMARY KEY ([run_id], [row_index]))`,
		strings.ReplaceAll(table, "'", "''"), mssqlTableIdent(table)), nil
}

// buildInsertSQL renders:
//
//	INSERT INTO t (cols) SELECT v.cols FROM (VALUES (@p1,...),...) AS v(cols)
//	WHERE NOT EXISTS (SELECT 1 FROM t x WHERE x.run_id = v.run_id AND x.row_index = v.row_index)
func buildInsertSQL(table string, run storage.RunInfo, rows []storage.ResultRow) (string, []any) {
	cols := make([]string, len(storage.Columns))
	vcols := make([]string, len(storage.Columns))
	for i, c := range storage.Columns {
		cols[i] = mssqlIdent(c)
		vcols[i] = "v." + mssqlIdent(c)
	}
	target := mssqlTableIdent(table)

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM (VALUES ", target, strings.Join(cols, ", "), strings.Join(vcols, ", "))

	args := make([]any, 0, len(rows)*len(cols))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range storage.Values(run, row) {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, ") AS v (%s) WHERE NOT EXISTS (SELECT 1 FROM %s x WHERE ", strings.Join(cols, ", "), target)
	for i, c := range storage.ConflictColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "x.%s = v.%s", mssqlIdent(c), mssqlIdent(c))
	}
	b.WriteString(")")
	return b.String(), args
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
//	"dbo.claims" -> [dbo].[claims]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// dbConn is the subset of *sql.DB used by Repo, so tests can substitute it.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }
