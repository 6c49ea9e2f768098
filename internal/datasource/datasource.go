// Package datasource opens the upload a one-shot run scores: a local file or
// a Cloud Storage object.
package datasource

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"

	"claimscore/internal/config"
)

// Source is an openable upload. Name carries the file name used to infer the
// upload format.
type Source struct {
	Name string
	open func(ctx context.Context) (io.ReadCloser, error)
	stop func() error
}

// Open returns a fresh reader over the upload.
func (s Source) Open(ctx context.Context) (io.ReadCloser, error) {
	return s.open(ctx)
}

// Close releases clients held by the source.
func (s Source) Close() error {
	if s.stop == nil {
		return nil
	}
	return s.stop()
}

// File reads a local path.
func File(p string) Source {
	return Source{
		Name: p,
		open: func(context.Context) (io.ReadCloser, error) {
			f, err := os.Open(p)
			if err != nil {
				return nil, fmt.Errorf("open upload: %w", err)
			}
			return f, nil
		},
	}
}

// ObjectReader opens a Cloud Storage object for reading.
type ObjectReader interface {
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// GCSClient adapts *storage.Client to ObjectReader.
type GCSClient struct {
	Client *storage.Client
}

func (c GCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.Client.Bucket(bucket).Object(object).NewReader(ctx)
}

// GCS reads gs://bucket/object through r.
func GCS(r ObjectReader, bucket, object string) Source {
	return Source{
		Name: path.Base(object),
		open: func(ctx context.Context) (io.ReadCloser, error) {
			rc, err := r.NewReader(ctx, bucket, object)
			if err != nil {
				return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, object, err)
			}
			return rc, nil
		},
	}
}

// New builds the configured source. pathOverride, when set, replaces the
// configured source with a local file. GCS sources create a storage client
// from application default credentials; Close releases it.
func New(ctx context.Context, cfg config.Source, pathOverride string) (Source, error) {
	if pathOverride != "" {
		return File(pathOverride), nil
	}

	switch cfg.Kind {
	case "file":
		if cfg.File == nil || cfg.File.Path == "" {
			return Source{}, fmt.Errorf("file source without path")
		}
		return File(cfg.File.Path), nil

	case "gcs":
		if cfg.GCS == nil {
			return Source{}, fmt.Errorf("gcs source without bucket/object")
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return Source{}, fmt.Errorf("storage client: %w", err)
		}
		src := GCS(GCSClient{Client: client}, cfg.GCS.Bucket, cfg.GCS.Object)
		src.stop = client.Close
		return src, nil

	case "":
		return Source{}, fmt.Errorf("no source configured (set source.kind or pass -input)")

	default:
		return Source{}, fmt.Errorf("unsupported source kind %q", cfg.Kind)
	}
}
