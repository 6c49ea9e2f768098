package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"claimscore/internal/storage"
)

// batchRows keeps one INSERT well under the 65535 bind-parameter limit.
const batchRows = 1000

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.ResultRepository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a pooled Postgres repository and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.ResultRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTable creates the schema (when qualified) and the results table.
func (r *Repo) EnsureTable(ctx context.Context, table string) error {
	schemaSQL, tableSQL, err := buildCreateSQL(table)
	if err != nil {
		return err
	}
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("postgres: create schema for %s: %w", table, err)
		}
	}
	if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", table, err)
	}
	return nil
}

// InsertResults inserts rows in one transaction, batch by batch. Rows whose
// (run_id, row_index) already exist are skipped.
func (r *Repo) InsertResults(ctx context.Context, table string, run storage.RunInfo, rows []storage.ResultRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, batch := range storage.Batches(rows, batchRows) {
		sql, args := buildInsertSQL(table, run, batch)
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, fmt.Errorf("postgres: insert into %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return total, nil
}

// buildCreateSQL returns DDL for the optional schema and the results table.
// It is pure so the generated SQL can be tested without a database.
func buildCreateSQL(table string) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(table) == "" {
		return "", "", fmt.Errorf("postgres: table name is empty")
	}
	if schema, _ := splitQualifiedName(table); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (`+
		`"run_id" TEXT NOT NULL, `+
		`"row_index" INTEGER NOT NULL, `+
		`"prediction" SMALLINT NOT NULL, `+
		`"label" TEXT NOT NULL, `+
		`"features" JSONB NOT NULL, `+
		`"fingerprint" TEXT NOT NULL, `+
		`"created_at" TIMESTAMPTZ NOT NULL, `+
		`PRIMARY KEY ("run_id", "row_index"));`,
		pgTableIdent(table))
	return schemaSQL, tableSQL, nil
}

// buildInsertSQL constructs one multi-row INSERT ... ON CONFLICT DO NOTHING
// and its positional args.
func buildInsertSQL(table string, run storage.RunInfo, rows []storage.ResultRow) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	for i, c := range storage.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(storage.Columns))
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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	for i, c := range storage.ConflictColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") DO NOTHING")
	return b.String(), args
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// pgTableIdent quotes each part of a possibly schema-qualified name.
func pgTableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgIdent(table)
	}
	return pgIdent(schema) + "." + pgIdent(table)
}

func splitQualifiedName(name string) (schema, table string) {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
