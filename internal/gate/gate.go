// Package gate is the last check before the classifier runs. It re-asserts
// that an aligned table has exactly the schema's columns and refuses to call
// the model otherwise.
package gate

import (
	"context"
	"errors"
	"fmt"

	"claimscore/internal/align"
	"claimscore/internal/schema"
)

// Classifier is the trained model as seen by the pipeline: fixed-width
// feature vectors in, one 0/1 label per row out, in row order.
type Classifier interface {
	Predict(ctx context.Context, X [][]float64) ([]int, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, X [][]float64) ([]int, error)

// Predict implements Classifier.
func (f ClassifierFunc) Predict(ctx context.Context, X [][]float64) ([]int, error) {
	return f(ctx, X)
}

var (
	// ErrSchemaMismatch means the aligned table does not match the schema.
	// The aligner guarantees the match by construction, so seeing this is a
	// defect, not bad input.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrClassifierContract means the classifier returned the wrong number of
	// labels or a label outside {0,1}.
	ErrClassifierContract = errors.New("classifier contract violation")
)

// SchemaMismatchError carries the first divergent position.
type SchemaMismatchError struct {
	// Position is the first differing column index, or the row index when
	// Row is true.
	Position int
	Row      bool
	Want     string
	Got      string
}

func (e *SchemaMismatchError) Error() string {
	if e.Row {
		return fmt.Sprintf("%v: row %d has %s values, want %s", ErrSchemaMismatch, e.Position, e.Got, e.Want)
	}
	return fmt.Sprintf("%v: column %d is %q, want %q", ErrSchemaMismatch, e.Position, e.Got, e.Want)
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// Gate holds the schema and the model it guards.
type Gate struct {
	schema *schema.Schema
	model  Classifier
}

// New returns a Gate for s that forwards to model.
func New(s *schema.Schema, model Classifier) *Gate {
	return &Gate{schema: s, model: model}
}

// Check verifies t against the schema without calling the model.
func (g *Gate) Check(t *align.Table) error {
	want := g.schema.Columns()
	if i := schema.FirstDifference(want, t.Columns); i >= 0 {
		e := &SchemaMismatchError{Position: i, Want: "<none>", Got: "<none>"}
		if i < len(want) {
			e.Want = want[i]
		}
		if i < len(t.Columns) {
			e.Got = t.Columns[i]
		}
		return e
	}
	for r, row := range t.Rows {
		if len(row) != len(want) {
			return &SchemaMismatchError{
				Position: r,
				Row:      true,
				Want:     fmt.Sprint(len(want)),
				Got:      fmt.Sprint(len(row)),
			}
		}
	}
	return nil
}

// Infer checks t and, only if it matches, runs the model on its rows. The
// returned labels are 1:1 with t.Rows.
func (g *Gate) Infer(ctx context.Context, t *align.Table) ([]int, error) {
	if err := g.Check(t); err != nil {
		return nil, err
	}
	if len(t.Rows) == 0 {
		return []int{}, nil
	}

	preds, err := g.model.Predict(ctx, t.Rows)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(preds) != len(t.Rows) {
		return nil, fmt.Errorf("%w: %d labels for %d rows", ErrClassifierContract, len(preds), len(t.Rows))
	}
	for i, p := range preds {
		if p != 0 && p != 1 {
			return nil, fmt.Errorf("%w: row %d label %d", ErrClassifierContract, i, p)
		}
	}
	return preds, nil
}
