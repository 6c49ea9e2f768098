package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config is the minimal configuration needed to create a ResultRepository.
//
// Kind must match a registered backend ("postgres", "mssql", "sqlite"). DSN is
// passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// RunInfo identifies the scoring run a batch of results belongs to.
type RunInfo struct {
	ID        string
	CreatedAt time.Time
}

// ResultRow is one scored claim as persisted.
//
// Features is JSON object text keyed by schema column; missing values are
// null. Fingerprint is the canonical digest of the aligned feature row.
type ResultRow struct {
	Index       int
	Prediction  int
	Label       string
	Features    string
	Fingerprint string
}

// ResultRepository persists scored claims.
//
// Each backend implements idempotency on (run_id, row_index) in its own
// idiomatic way (Postgres ON CONFLICT, SQLite OR IGNORE, SQL Server NOT
// EXISTS), so re-inserting a run is a no-op.
type ResultRepository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTable creates the results table if it does not exist.
	EnsureTable(ctx context.Context, table string) error

	// InsertResults writes rows for run and returns the number of rows
	// actually inserted (duplicates are skipped, not counted).
	InsertResults(ctx context.Context, table string, run RunInfo, rows []ResultRow) (int64, error)
}

// Columns is the results table column order used by every backend.
var Columns = []string{"run_id", "row_index", "prediction", "label", "features", "fingerprint", "created_at"}

// ConflictColumns is the natural key of a persisted result.
var ConflictColumns = []string{"run_id", "row_index"}

// Values returns the insert arguments for r in Columns order.
func Values(run RunInfo, r ResultRow) []any {
	return []any{run.ID, r.Index, r.Prediction, r.Label, r.Features, r.Fingerprint, run.CreatedAt}
}

// Factory builds a backend for cfg.
type Factory func(ctx context.Context, cfg Config) (ResultRepository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind. Call it from a backend package's
// init().
//
// Panics if kind is empty, f is nil, or kind is already registered, so an
// ambiguous backend selection fails at startup.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a ResultRepository using the registered backend factory.
func New(ctx context.Context, cfg Config) (ResultRepository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Batches splits rows into consecutive slices of at most size rows. Backends
// use it to stay under their bind-parameter limits.
func Batches(rows []ResultRow, size int) [][]ResultRow {
	if size <= 0 {
		size = len(rows)
	}
	var out [][]ResultRow
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// DedupeByIndex keeps the first row for each Index, preserving order.
func DedupeByIndex(rows []ResultRow) []ResultRow {
	seen := make(map[int]struct{}, len(rows))
	out := make([]ResultRow, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.Index]; ok {
			continue
		}
		seen[r.Index] = struct{}{}
		out = append(out, r)
	}
	return out
}
