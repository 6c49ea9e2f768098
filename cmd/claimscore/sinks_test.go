package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"claimscore/internal/config"
	"claimscore/internal/export"
	"claimscore/internal/label"
	"claimscore/internal/pipeline"
	"claimscore/internal/storage"
)

type memObject struct {
	bytes.Buffer
	name  string
	store *memBucket
}

func (o *memObject) Close() error {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	o.store.objects[o.name] = o.Bytes()
	return nil
}

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBucket) create(_ context.Context, name string) io.WriteCloser {
	return &memObject{name: name, store: b}
}

type recordingRepo struct {
	mu    sync.Mutex
	table string
	run   storage.RunInfo
	rows  []storage.ResultRow
	err   error
}

func (r *recordingRepo) Close()                                    {}
func (r *recordingRepo) EnsureTable(context.Context, string) error { return nil }
func (r *recordingRepo) InsertResults(ctx context.Context, table string, run storage.RunInfo, rows []storage.ResultRow) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.table, r.run, r.rows = table, run, rows
	return int64(len(rows)), nil
}

func sampleRun() *pipeline.Run {
	return &pipeline.Run{
		ID:      "run-42",
		Started: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		Result: &label.Result{
			Columns: []string{"age", "sex_MALE"},
			Rows: []label.Row{
				{Features: []float64{34, 1}, Prediction: 1, Label: "Oui"},
				{Features: []float64{41, 0}, Prediction: 0, Label: "Non"},
			},
		},
		RowFingerprints: []string{"f0", "f1"},
	}
}

func TestSinks_UploadsEveryArtifactAndStoresRows(t *testing.T) {
	bucket := &memBucket{objects: map[string][]byte{}}
	repo := &recordingRepo{}
	s := &sinks{
		files:     config.Output{CSV: "/should/not/be/written.csv"},
		local:     false,
		create:    bucket.create,
		gcsPrefix: "claims/daily",
		repo:      repo,
		table:     "claim_predictions",
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	if err := s.Deliver(context.Background(), sampleRun()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	var names []string
	for n := range bucket.objects {
		names = append(names, n)
	}
	sort.Strings(names)
	want := []string{
		"claims/daily/run-42/" + export.DefaultCSVName,
		"claims/daily/run-42/" + export.DefaultChartName,
		"claims/daily/run-42/" + export.DefaultXLSXName,
	}
	sort.Strings(want)
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("objects = %v, want %v", names, want)
	}
	if !strings.HasSuffix(string(bucket.objects["claims/daily/run-42/"+export.DefaultCSVName]), "41,0,Non\n") {
		t.Fatalf("csv object has unexpected content")
	}

	if repo.table != "claim_predictions" || repo.run.ID != "run-42" || len(repo.rows) != 2 || repo.rows[1].Fingerprint != "f1" {
		t.Fatalf("repo saw table=%q run=%+v rows=%d", repo.table, repo.run, len(repo.rows))
	}
	if _, err := os.Stat("/should/not/be/written.csv"); err == nil {
		t.Fatalf("local file written in server mode")
	}
}

func TestSinks_WritesLocalFilesOnly(t *testing.T) {
	dir := t.TempDir()
	s := &sinks{
		files: config.Output{
			CSV:  filepath.Join(dir, "r.csv"),
			XLSX: filepath.Join(dir, "r.xlsx"),
		},
		local: true,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	if err := s.Deliver(context.Background(), sampleRun()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "r.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if string(got) != "age,sex_MALE,prediction\n34,1,Oui\n41,0,Non\n" {
		t.Fatalf("csv = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "r.xlsx")); err != nil {
		t.Fatalf("xlsx not written: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("expected only the configured files, got %d entries", len(entries))
	}
}

func TestSinks_StorageErrorFailsDelivery(t *testing.T) {
	s := &sinks{
		repo:  &recordingRepo{err: errors.New("connection reset")},
		table: "t",
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	err := s.Deliver(context.Background(), sampleRun())
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("Deliver err=%v, want storage error", err)
	}
}

func TestSinks_EmptyRunSkipsChart(t *testing.T) {
	bucket := &memBucket{objects: map[string][]byte{}}
	s := &sinks{create: bucket.create, log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	run := sampleRun()
	run.Result.Rows = nil
	run.RowFingerprints = nil
	if err := s.Deliver(context.Background(), run); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if _, ok := bucket.objects["run-42/"+export.DefaultChartName]; ok {
		t.Fatalf("chart uploaded for an empty run")
	}
	if _, ok := bucket.objects["run-42/"+export.DefaultCSVName]; !ok {
		t.Fatalf("csv not uploaded: %v", bucket.objects)
	}
}
