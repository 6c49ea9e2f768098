// Package align reconciles an encoded upload with the schema so that the
// resulting table has exactly the schema's columns, in the schema's order.
package align

import (
	"claimscore/internal/encoder"
	"claimscore/internal/schema"
)

// Table is an aligned feature table. Columns always equals the schema the
// Aligner was built with; Rows are aligned with the raw upload rows.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// Discard describes an encoded column that has no schema counterpart, most
// often a category the model never saw at training time.
type Discard struct {
	Column   string
	Field    string
	Category string
	// Rows is how many rows carried a non-zero value in the dropped column.
	Rows int
}

// Observer is notified of every discarded column. It must not block; the
// prediction is unaffected by what it does.
type Observer interface {
	Discarded(d Discard)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(d Discard)

// Discarded implements Observer.
func (f ObserverFunc) Discarded(d Discard) { f(d) }

// Report summarizes what alignment had to change.
type Report struct {
	// Missing are schema columns absent from the upload, zero-filled.
	Missing []string
	// Discarded are upload columns not in the schema, dropped.
	Discarded []Discard
}

// Aligner is immutable and safe for concurrent use.
type Aligner struct {
	schema   *schema.Schema
	columns  []string
	observer Observer
}

// Option configures an Aligner.
type Option func(*Aligner)

// WithObserver installs the hook called for every discarded column.
func WithObserver(o Observer) Option {
	return func(a *Aligner) { a.observer = o }
}

// New returns an Aligner for s.
func New(s *schema.Schema, opts ...Option) *Aligner {
	a := &Aligner{schema: s, columns: s.Columns()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Align maps enc onto the schema.
//
// Pass one computes the symmetric difference between the encoded and the
// schema column sets. Pass two walks the schema order and copies observed
// columns, leaving missing ones at zero. Extra columns are dropped and
// reported. Row count and order are preserved, and the same input always
// yields the same output.
func (a *Aligner) Align(enc *encoder.Table) (*Table, Report) {
	observed := make(map[string]int, len(enc.Columns))
	for i, c := range enc.Columns {
		observed[c.Name] = i
	}

	var rep Report
	src := make([]int, len(a.columns))
	for j, name := range a.columns {
		i, ok := observed[name]
		if !ok {
			i = -1
			rep.Missing = append(rep.Missing, name)
		}
		src[j] = i
	}
	for i, c := range enc.Columns {
		if a.schema.Has(c.Name) {
			continue
		}
		d := Discard{Column: c.Name, Field: c.Field, Category: c.Category}
		for _, row := range enc.Rows {
			if row[i] != 0 {
				d.Rows++
			}
		}
		rep.Discarded = append(rep.Discarded, d)
	}

	out := &Table{
		Columns: append([]string(nil), a.columns...),
		Rows:    make([][]float64, len(enc.Rows)),
	}
	for r, in := range enc.Rows {
		row := make([]float64, len(a.columns))
		for j, i := range src {
			if i >= 0 {
				row[j] = in[i]
			}
		}
		out.Rows[r] = row
	}

	if a.observer != nil {
		for _, d := range rep.Discarded {
			a.observer.Discarded(d)
		}
	}
	return out, rep
}
