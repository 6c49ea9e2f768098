// Package pipeline runs one scoring pass over an uploaded claims table:
// encode, align, gate, label. It is shared by the CLI and the HTTP server.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"claimscore/internal/align"
	"claimscore/internal/encoder"
	"claimscore/internal/gate"
	"claimscore/internal/label"
	"claimscore/internal/metrics"
	"claimscore/internal/schema"
	"claimscore/internal/transformer"
	"claimscore/pkg/records"
)

// Step names, used in errors, logs and metrics.
const (
	StepEncode = "encode"
	StepAlign  = "align"
	StepInfer  = "infer"
	StepLabel  = "label"
)

// StepError reports which step of a run failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Options configures a Pipeline.
type Options struct {
	// Categorical lists the raw fields to one-hot encode. Empty means every
	// categorical field of the schema.
	Categorical     []string
	MissingCategory string
	Vocabulary      label.Vocabulary
	Logger          *slog.Logger
}

// Pipeline is safe for concurrent use; each Run is independent.
type Pipeline struct {
	schema      *schema.Schema
	encoder     *encoder.Encoder
	gate        *gate.Gate
	labeler     label.Labeler
	categorical []string
	log         *slog.Logger

	newID func() string
	now   func() time.Time
}

// New wires the scoring steps for schema s and model.
func New(s *schema.Schema, model gate.Classifier, opts Options) *Pipeline {
	var encOpts []encoder.Option
	if opts.MissingCategory != "" {
		encOpts = append(encOpts, encoder.WithMissingCategory(opts.MissingCategory))
	}
	cats := opts.Categorical
	if len(cats) == 0 {
		cats = s.CategoricalFields()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		schema:      s,
		encoder:     encoder.New(s, encOpts...),
		gate:        gate.New(s, model),
		labeler:     label.Labeler{Vocabulary: opts.Vocabulary},
		categorical: append([]string(nil), cats...),
		log:         log,
		newID:       func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// Schema returns the schema the pipeline scores against.
func (p *Pipeline) Schema() *schema.Schema { return p.schema }

// Run is the outcome of one scoring pass.
type Run struct {
	ID      string
	Started time.Time
	Elapsed time.Duration

	Result *label.Result
	Report align.Report

	// Fingerprint digests the whole aligned table; RowFingerprints are
	// index-aligned with Result.Rows.
	Fingerprint     string
	RowFingerprints []string
}

// Fraud counts rows predicted as fraud.
func (r *Run) Fraud() int {
	n := 0
	for _, row := range r.Result.Rows {
		if row.Prediction == 1 {
			n++
		}
	}
	return n
}

// Run scores raw. Input problems surface as errors matching
// records.ErrInputFormat; a schema mismatch matches gate.ErrSchemaMismatch.
// The model is never called unless the aligned table passes the gate.
func (p *Pipeline) Run(ctx context.Context, raw records.Table) (*Run, error) {
	run := &Run{ID: p.newID(), Started: p.now()}
	log := p.log.With("run_id", run.ID)
	metrics.RecordRecords("uploaded", raw.Len())

	start := time.Now()
	enc, err := p.encoder.Encode(raw, p.categorical)
	metrics.RecordStep(StepEncode, start, err)
	if err != nil {
		log.Warn("upload rejected", "step", StepEncode, "err", err)
		return nil, &StepError{Step: StepEncode, Err: err}
	}

	start = time.Now()
	aligner := align.New(p.schema, align.WithObserver(align.ObserverFunc(func(d align.Discard) {
		log.Warn("unknown category discarded",
			"field", d.Field, "category", d.Category, "column", d.Column, "rows", d.Rows)
		metrics.IncCounter(metrics.UnknownCategories, 1, metrics.Labels{"field": d.Field})
	})))
	aligned, report := aligner.Align(enc)
	metrics.RecordStep(StepAlign, start, nil)
	run.Report = report
	if len(report.Missing) > 0 {
		log.Debug("schema columns absent from upload", "count", len(report.Missing))
	}

	start = time.Now()
	preds, err := p.gate.Infer(ctx, aligned)
	metrics.RecordStep(StepInfer, start, err)
	if err != nil {
		log.Error("inference refused or failed", "step", StepInfer, "err", err)
		return nil, &StepError{Step: StepInfer, Err: err}
	}

	start = time.Now()
	run.Result = p.labeler.Attach(aligned, preds)
	run.RowFingerprints = transformer.DefaultFingerprint.Rows(aligned.Columns, aligned.Rows)
	run.Fingerprint = transformer.DefaultFingerprint.Table(aligned.Columns, aligned.Rows)
	metrics.RecordStep(StepLabel, start, nil)

	run.Elapsed = p.now().Sub(run.Started)
	fraud := run.Fraud()
	metrics.RecordRecords("predicted", len(preds))
	metrics.RecordRecords("fraud", fraud)

	log.Info("upload scored",
		"rows", len(preds),
		"fraud", fraud,
		"discarded_columns", len(report.Discarded),
		"fingerprint", run.Fingerprint,
		"elapsed", run.Elapsed.String())
	return run, nil
}

// Describe is a one-line human summary of a run.
func (r *Run) Describe() string {
	n := len(r.Result.Rows)
	pct := 0.0
	if n > 0 {
		pct = 100 * float64(r.Fraud()) / float64(n)
	}
	return fmt.Sprintf("run %s: %d claims scored, %d flagged (%.1f%%)", r.ID, n, r.Fraud(), pct)
}
