package main

import (
	"context"
	"fmt"
	"log/slog"

	"claimscore/internal/classifier"
	"claimscore/internal/config"
	"claimscore/internal/datasource"
	"claimscore/internal/export"
	"claimscore/internal/label"
	"claimscore/internal/pipeline"
	"claimscore/internal/probe"
	"claimscore/internal/schema"
	"claimscore/internal/server"
	"claimscore/internal/upload"
	"claimscore/pkg/records"
)

// scorer is the production runner: it builds the pipeline from config and
// either scores the configured upload once, probes it, or serves the HTTP API.
type scorer struct {
	log *slog.Logger
}

func (s *scorer) Run(ctx context.Context, p config.Pipeline, o runOptions) error {
	sc, err := loadSchema(p.Schema)
	if err != nil {
		return err
	}
	if o.Probe {
		return s.probe(ctx, p, o, sc)
	}
	model, err := classifier.Open(p.Model, sc)
	if err != nil {
		return fmt.Errorf("open model: %w", err)
	}

	pipe := pipeline.New(sc, model, pipeline.Options{
		Categorical:     p.Schema.CategoricalFields,
		MissingCategory: p.Schema.MissingCategory,
		Vocabulary:      label.ForLocale(p.Labels.Locale),
		Logger:          s.log,
	})

	serving := o.Listen != ""
	sk, err := openSinks(ctx, p, !serving, s.log)
	if err != nil {
		return err
	}
	defer sk.Close()

	s.log.Info("pipeline ready",
		"job", p.Job,
		"schema_version", sc.Version(),
		"columns", sc.Len(),
		"model", p.Model.Kind,
		"storage", p.Storage.Kind)

	if serving {
		srv := server.New(pipe, server.Options{
			ParserOptions:  p.Parser.Options,
			MaxUploadBytes: p.Server.MaxUploadBytes,
			Logger:         s.log,
			Sink:           sk.Deliver,
		})
		return srv.ListenAndServe(ctx, o.Listen)
	}

	run, err := scoreOnce(ctx, p, o.Input, pipe)
	if err != nil {
		return err
	}
	if err := sk.Deliver(ctx, run); err != nil {
		return fmt.Errorf("deliver results: %w", err)
	}

	fmt.Fprintln(o.Stdout, run.Describe())
	for _, sh := range export.Summarize(run.Result).Shares {
		fmt.Fprintf(o.Stdout, "  %-10s %6d  %5.1f%%\n", sh.Label, sh.Count, sh.Percent)
	}
	return nil
}

func loadSchema(cfg config.SchemaConfig) (*schema.Schema, error) {
	if cfg.Path == "" {
		return schema.Claims(), nil
	}
	sc, err := schema.Load(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return sc, nil
}

// probe reports how the upload lines up with the schema. The model and the
// sinks are never opened.
func (s *scorer) probe(ctx context.Context, p config.Pipeline, o runOptions, sc *schema.Schema) error {
	table, err := readSource(ctx, p, o.Input)
	if err != nil {
		return err
	}
	rep := probe.Inspect(table, sc, probe.Options{
		Categorical:     p.Schema.CategoricalFields,
		MissingCategory: p.Schema.MissingCategory,
	})
	s.log.Debug("probe done", "rows", rep.Rows, "problems", len(rep.Problems()))
	fmt.Fprintln(o.Stdout, rep.Text())
	return nil
}

func scoreOnce(ctx context.Context, p config.Pipeline, input string, pipe *pipeline.Pipeline) (*pipeline.Run, error) {
	table, err := readSource(ctx, p, input)
	if err != nil {
		return nil, err
	}
	return pipe.Run(ctx, table)
}

func readSource(ctx context.Context, p config.Pipeline, input string) (records.Table, error) {
	var none records.Table
	src, err := datasource.New(ctx, p.Source, input)
	if err != nil {
		return none, err
	}
	defer src.Close()

	kind, err := upload.Resolve(p.Parser.Kind, src.Name)
	if err != nil {
		return none, err
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return none, fmt.Errorf("open source: %w", err)
	}
	defer rc.Close()

	return upload.Read(ctx, kind, src.Name, rc, p.Parser.Options)
}
