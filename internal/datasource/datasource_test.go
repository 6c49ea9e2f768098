package datasource

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"claimscore/internal/config"
)

type fakeBucket struct {
	objects map[string]string
	calls   []string
}

func (f *fakeBucket) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	f.calls = append(f.calls, bucket+"/"+object)
	body, ok := f.objects[bucket+"/"+object]
	if !ok {
		return nil, errors.New("storage: object doesn't exist")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "claims.csv")
	if err := os.WriteFile(p, []byte("age\n34\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := File(p)
	rc, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "age\n34\n" || src.Name != p {
		t.Fatalf("unexpected source %q / %q", src.Name, b)
	}

	if _, err := File(filepath.Join(t.TempDir(), "missing.csv")).Open(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestGCS(t *testing.T) {
	fb := &fakeBucket{objects: map[string]string{"uploads/2024/fraud.xlsx": "data"}}
	src := GCS(fb, "uploads", "2024/fraud.xlsx")
	if src.Name != "fraud.xlsx" {
		t.Fatalf("Name = %q, want base name", src.Name)
	}

	rc, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rc.Close()

	_, err = GCS(fb, "uploads", "nope.csv").Open(context.Background())
	if err == nil || !strings.Contains(err.Error(), "gs://uploads/nope.csv") {
		t.Fatalf("expected error naming the object, got %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close without client: %v", err)
	}
}

func TestNew(t *testing.T) {
	src, err := New(context.Background(), config.Source{Kind: "file", File: &config.FileSource{Path: "a.csv"}}, "")
	if err != nil || src.Name != "a.csv" {
		t.Fatalf("file source: %+v (%v)", src, err)
	}

	src, err = New(context.Background(), config.Source{Kind: "gcs"}, "override.json")
	if err != nil || src.Name != "override.json" {
		t.Fatalf("override must win: %+v (%v)", src, err)
	}

	for _, cfg := range []config.Source{{}, {Kind: "file"}, {Kind: "ftp"}, {Kind: "gcs"}} {
		if _, err := New(context.Background(), cfg, ""); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}
