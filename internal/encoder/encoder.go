// Package encoder turns a raw upload into numeric features: numeric fields
// pass through, categorical fields are one-hot expanded with the training
// reference category dropped.
//
// The encoder only knows what this upload contains. Its column set varies
// from upload to upload; reconciling it with the schema is the aligner's job.
package encoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"claimscore/internal/schema"
	"claimscore/pkg/records"
)

// DefaultMissingCategory is the category an empty categorical cell encodes to.
// It matches the "<field>_nan" indicator naming the model was trained with.
const DefaultMissingCategory = "nan"

// Column describes one encoded column and where it came from.
type Column struct {
	Name     string
	Field    string
	Category string // empty for numeric passthroughs
	Numeric  bool
}

// Table is the encoder output. Rows are aligned with Columns and with the
// input rows (same count, same order).
type Table struct {
	Columns []Column
	Rows    [][]float64
}

// Names returns the column names in table order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Encoder is safe for concurrent use; it holds no per-upload state.
type Encoder struct {
	schema  *schema.Schema
	missing string
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithMissingCategory overrides the category used for empty categorical cells.
func WithMissingCategory(c string) Option {
	return func(e *Encoder) {
		if c != "" {
			e.missing = c
		}
	}
}

// New returns an Encoder for s.
func New(s *schema.Schema, opts ...Option) *Encoder {
	e := &Encoder{schema: s, missing: DefaultMissingCategory}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Encode produces the encoded table for raw.
//
// categorical lists the raw fields to one-hot encode. Fields the schema does
// not know are still encoded (every category becomes an indicator); the
// aligner discards them later. Numeric fields come from the schema.
//
// Errors (all match records.ErrInputFormat):
//   - *MissingColumnError when a numeric or categorical field is absent
//     from the upload
//   - *ValueError when a numeric cell is not a finite number
func (e *Encoder) Encode(raw records.Table, categorical []string) (*Table, error) {
	numeric := e.schema.Numeric()
	fields := dedupe(categorical)

	out := &Table{Rows: make([][]float64, len(raw.Rows))}

	for _, f := range numeric {
		if !raw.HasColumn(f) {
			return nil, &MissingColumnError{Column: f}
		}
		out.Columns = append(out.Columns, Column{Name: f, Field: f, Numeric: true})
	}

	// Collect categories per field before sizing rows.
	type plan struct {
		field  string
		values []string // canonical value per row
		index  map[string]int
	}
	plans := make([]plan, 0, len(fields))
	for _, f := range fields {
		if !raw.HasColumn(f) {
			return nil, &MissingColumnError{Column: f}
		}
		ref := ""
		if g, ok := e.schema.Group(f); ok {
			ref = g.Reference
		}

		p := plan{field: f, values: make([]string, len(raw.Rows))}
		seen := map[string]bool{}
		for i, r := range raw.Rows {
			v := e.canonical(r[f])
			p.values[i] = v
			if v != ref {
				seen[v] = true
			}
		}

		cats := make([]string, 0, len(seen))
		for c := range seen {
			cats = append(cats, c)
		}
		sort.Strings(cats)

		p.index = make(map[string]int, len(cats))
		for _, c := range cats {
			p.index[c] = len(out.Columns)
			out.Columns = append(out.Columns, Column{
				Name:     schema.IndicatorName(f, c),
				Field:    f,
				Category: c,
			})
		}
		plans = append(plans, p)
	}

	width := len(out.Columns)
	for i, r := range raw.Rows {
		row := make([]float64, width)
		for j, f := range numeric {
			v, err := toFloat(r[f])
			if err != nil {
				return nil, &ValueError{Row: i + 1, Column: f, Value: r[f], Err: err}
			}
			row[j] = v
		}
		for _, p := range plans {
			if ix, ok := p.index[p.values[i]]; ok {
				row[ix] = 1
			}
		}
		out.Rows[i] = row
	}

	return out, nil
}

// Category returns the category string v encodes to, applying the missing
// category to empty cells.
func (e *Encoder) Category(v any) string { return e.canonical(v) }

// ParseNumber converts a numeric cell the way Encode does. Empty cells are
// NaN.
func ParseNumber(v any) (float64, error) { return toFloat(v) }

// canonical renders a categorical cell as the category string used in
// indicator names.
func (e *Encoder) canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return e.missing
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return e.missing
		}
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return t.String()
	case float64:
		if math.IsNaN(t) {
			return e.missing
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		if math.IsNaN(float64(t)) {
			return e.missing
		}
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// errInfinite rejects ±Inf cells; ParseFloat accepts "inf" and "Infinity".
var errInfinite = errors.New("value is infinite")

// toFloat converts a numeric cell. Empty cells and NaN (including "NaN"
// text) are missing and become NaN.
func toFloat(v any) (float64, error) {
	f, err := parseFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsInf(f, 0) {
		return 0, errInfinite
	}
	return f, nil
}

func parseFloat(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return math.NaN(), nil
		}
		return strconv.ParseFloat(s, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
