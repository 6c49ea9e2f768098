package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"claimscore/internal/config"
	"claimscore/internal/export"
	"claimscore/internal/pipeline"
	"claimscore/internal/storage"
)

// artifact is one rendered result file.
type artifact struct {
	name string // object name under the run prefix
	path string // local path, empty when not written locally
	data []byte
}

// sinks delivers a run to every configured destination concurrently.
type sinks struct {
	files config.Output
	local bool

	create    export.ObjectCreator
	gcsPrefix string

	repo  storage.ResultRepository
	table string

	log    *slog.Logger
	closer []func()
}

// openSinks connects the configured destinations. Local files are written
// only when local is true (one-shot mode); the server would otherwise
// overwrite them on every request.
func openSinks(ctx context.Context, p config.Pipeline, local bool, log *slog.Logger) (*sinks, error) {
	s := &sinks{files: p.Output, local: local, gcsPrefix: p.Output.GCSPrefix, table: p.Storage.Table, log: log}

	if p.Output.GCSBucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		s.create = export.GCSCreator(client.Bucket(p.Output.GCSBucket))
		s.closer = append(s.closer, func() { _ = client.Close() })
	}

	if p.Storage.Kind != "" {
		repo, err := storage.New(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open %s storage: %w", p.Storage.Kind, err)
		}
		s.closer = append(s.closer, repo.Close)
		if p.Storage.AutoCreateTable {
			if err := repo.EnsureTable(ctx, p.Storage.Table); err != nil {
				s.Close()
				return nil, err
			}
		}
		s.repo = repo
	}
	return s, nil
}

// Close releases clients in reverse order.
func (s *sinks) Close() {
	for i := len(s.closer) - 1; i >= 0; i-- {
		s.closer[i]()
	}
	s.closer = nil
}

// Deliver renders the needed artifacts once, then writes files, uploads
// objects and inserts rows in parallel. The first failure cancels the rest.
func (s *sinks) Deliver(ctx context.Context, run *pipeline.Run) error {
	arts, err := s.render(run)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, a := range arts {
		if s.local && a.path != "" {
			g.Go(func() error {
				if err := os.WriteFile(a.path, a.data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", a.path, err)
				}
				s.log.Info("result file written", "run_id", run.ID, "path", a.path, "bytes", len(a.data))
				return nil
			})
		}
		if s.create != nil {
			object := path.Join(s.gcsPrefix, run.ID, a.name)
			g.Go(func() error {
				written, err := export.Upload(gctx, s.create, object, bytes.NewReader(a.data))
				if err != nil {
					return err
				}
				s.log.Info("result object uploaded", "run_id", run.ID, "object", object, "created", written)
				return nil
			})
		}
	}

	if s.repo != nil {
		g.Go(func() error {
			rows, err := storage.FromResult(run.Result, run.RowFingerprints)
			if err != nil {
				return err
			}
			n, err := s.repo.InsertResults(gctx, s.table, storage.RunInfo{ID: run.ID, CreatedAt: run.Started}, rows)
			if err != nil {
				return fmt.Errorf("store results: %w", err)
			}
			s.log.Info("results stored", "run_id", run.ID, "table", s.table, "inserted", n)
			return nil
		})
	}

	return g.Wait()
}

// render produces the artifacts some destination needs. Every artifact is
// needed when uploading to GCS; otherwise only configured local files.
func (s *sinks) render(run *pipeline.Run) ([]artifact, error) {
	uploading := s.create != nil
	var out []artifact

	if want, p := s.wants(uploading, s.files.CSV); want {
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, run.Result); err != nil {
			return nil, err
		}
		out = append(out, artifact{name: objectName(p, export.DefaultCSVName), path: p, data: buf.Bytes()})
	}
	if want, p := s.wants(uploading, s.files.XLSX); want {
		var buf bytes.Buffer
		if err := export.WriteXLSX(&buf, run.Result); err != nil {
			return nil, err
		}
		out = append(out, artifact{name: objectName(p, export.DefaultXLSXName), path: p, data: buf.Bytes()})
	}
	// An empty upload has nothing to chart.
	if want, p := s.wants(uploading, s.files.Chart); want && len(run.Result.Rows) > 0 {
		var buf bytes.Buffer
		if err := export.WriteChart(&buf, export.Summarize(run.Result)); err != nil {
			return nil, err
		}
		out = append(out, artifact{name: objectName(p, export.DefaultChartName), path: p, data: buf.Bytes()})
	}
	return out, nil
}

func (s *sinks) wants(uploading bool, localPath string) (bool, string) {
	if !s.local {
		localPath = ""
	}
	return uploading || localPath != "", localPath
}

func objectName(localPath, def string) string {
	if localPath == "" {
		return def
	}
	return filepath.Base(localPath)
}
