package storage

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"claimscore/internal/label"
)

type fakeRepo struct {
	closeCalls int
}

func (f *fakeRepo) Close() { f.closeCalls++ }

func (f *fakeRepo) EnsureTable(ctx context.Context, table string) error { return nil }

func (f *fakeRepo) InsertResults(ctx context.Context, table string, run RunInfo, rows []ResultRow) (int64, error) {
	return int64(len(rows)), nil
}

func TestRegisterAndNew(t *testing.T) {
	want := &fakeRepo{}
	Register("fake-test", func(ctx context.Context, cfg Config) (ResultRepository, error) {
		if cfg.DSN != "mem" {
			t.Fatalf("unexpected DSN %q", cfg.DSN)
		}
		return want, nil
	})

	got, err := New(context.Background(), Config{Kind: "fake-test", DSN: "mem"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got != want {
		t.Fatalf("New returned a different repository")
	}

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("expected error for unregistered kind")
	}
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (ResultRepository, error) { return &fakeRepo{}, nil }
	Register("dup-test", f)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("dup-test", f)
}

func TestRegister_PanicsOnEmptyKind(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on empty kind")
		}
	}()
	Register("", func(ctx context.Context, cfg Config) (ResultRepository, error) { return nil, nil })
}

func TestValues_FollowColumns(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := Values(RunInfo{ID: "r1", CreatedAt: at}, ResultRow{Index: 3, Prediction: 1, Label: "Yes", Features: "{}", Fingerprint: "abc"})
	if len(v) != len(Columns) {
		t.Fatalf("got %d values for %d columns", len(v), len(Columns))
	}
	if v[0] != "r1" || v[1] != 3 || v[2] != 1 || v[3] != "Yes" || v[5] != "abc" || v[6] != at {
		t.Fatalf("unexpected values %#v", v)
	}
}

func TestBatches(t *testing.T) {
	rows := make([]ResultRow, 7)
	for i := range rows {
		rows[i].Index = i
	}

	got := Batches(rows, 3)
	if len(got) != 3 || len(got[0]) != 3 || len(got[2]) != 1 || got[2][0].Index != 6 {
		t.Fatalf("unexpected batches %v", got)
	}
	if len(Batches(nil, 3)) != 0 {
		t.Fatalf("expected no batches for no rows")
	}
	if len(Batches(rows, 0)) != 1 {
		t.Fatalf("size 0 should yield one batch")
	}
}

func TestDedupeByIndex_KeepsFirst(t *testing.T) {
	rows := []ResultRow{
		{Index: 0, Label: "a"},
		{Index: 1, Label: "b"},
		{Index: 0, Label: "dup"},
		{Index: 2, Label: "c"},
	}
	got := DedupeByIndex(rows)
	if len(got) != 3 || got[0].Label != "a" || got[2].Label != "c" {
		t.Fatalf("unexpected dedupe result %v", got)
	}
}

func TestFromResult(t *testing.T) {
	res := &label.Result{
		Columns: []string{"age", "sex_MALE"},
		Rows: []label.Row{
			{Features: []float64{34, 1}, Prediction: 1, Label: "Yes"},
			{Features: []float64{math.NaN(), 0}, Prediction: 0, Label: "No"},
		},
	}

	rows, err := FromResult(res, []string{"f0", "f1"})
	if err != nil {
		t.Fatalf("FromResult: %v", err)
	}
	if rows[0].Features != `{"age":34,"sex_MALE":1}` {
		t.Fatalf("features[0] = %s", rows[0].Features)
	}
	if rows[1].Features != `{"age":null,"sex_MALE":0}` {
		t.Fatalf("features[1] = %s", rows[1].Features)
	}
	if rows[1].Index != 1 || rows[1].Fingerprint != "f1" || rows[1].Label != "No" {
		t.Fatalf("unexpected row %+v", rows[1])
	}

	if _, err := FromResult(res, []string{"only-one"}); err == nil || !strings.Contains(err.Error(), "fingerprints") {
		t.Fatalf("expected fingerprint count error, got %v", err)
	}
}
