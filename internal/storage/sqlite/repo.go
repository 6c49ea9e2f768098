package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"claimscore/internal/storage"
)

// batchRows keeps one INSERT under SQLite's default variable limit.
const batchRows = 500

func init() {
	storage.Register("sqlite", New)
}

// Repo implements storage.ResultRepository for SQLite.
//
// SQLite has no native timestamp type, so created_at is stored as an
// RFC3339Nano string and features as TEXT.
type Repo struct {
	db *sql.DB
}

// New opens the database at cfg.DSN (a file path or "file:" URI).
func New(ctx context.Context, cfg storage.Config) (storage.ResultRepository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTable creates the results table if needed.
func (r *Repo) EnsureTable(ctx context.Context, table string) error {
	ddl, err := buildCreateSQL(table)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// InsertResults inserts rows with INSERT OR IGNORE, relying on the
// (run_id, row_index) primary key for idempotency.
func (r *Repo) InsertResults(ctx context.Context, table string, run storage.RunInfo, rows []storage.ResultRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, batch := range storage.Batches(rows, batchRows) {
		q, args := buildInsertSQL(table, run, batch)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateSQL(table string) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (`+
		`"run_id" TEXT NOT NULL, `+
		`"row_index" INTEGER NOT NULL, `+
		`"prediction" INTEGER NOT NULL, `+
		`"label" TEXT NOT NULL, `+
		`"features" TEXT NOT NULL, `+
		`"fingerprint" TEXT NOT NULL, `+
		`"created_at" TEXT NOT NULL, `+
		`PRIMARY KEY ("run_id", "row_index"))`, sqlIdent(table)), nil
}

func buildInsertSQL(table string, run storage.RunInfo, rows []storage.ResultRow) (string, []any) {
	cols := make([]string, len(storage.Columns))
	for i, c := range storage.Columns {
		cols[i] = sqlIdent(c)
	}
	tuple := "(" + strings.TrimRight(strings.Repeat("?,", len(cols)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT OR IGNORE INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		vals := storage.Values(run, row)
		// created_at is the last column.
		vals[len(vals)-1] = formatTime(run.CreatedAt)
		args = append(args, vals...)
	}
	return b.String(), args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
