// Package probe inspects an uploaded claims table against the schema without
// scoring it.
//
// It shows a claims analyst what would reject an upload before a run, and
// which categorical values the model has never seen (they silently
// contribute nothing). Inspection is best-effort and never fails.
package probe

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"claimscore/internal/encoder"
	"claimscore/internal/schema"
	"claimscore/pkg/records"
)

// maxExamples bounds the sample values kept per field.
const maxExamples = 5

// Field kinds.
const (
	KindNumeric     = "numeric"
	KindCategorical = "categorical"
)

// FieldReport describes one schema field as observed in the upload.
type FieldReport struct {
	Field   string `json:"field"`
	Kind    string `json:"kind"`
	Present bool   `json:"present"`
	// Blank counts empty cells (NaN for numeric fields, the missing category
	// for categorical ones).
	Blank int `json:"blank"`
	// Invalid counts numeric cells that do not parse.
	Invalid  int      `json:"invalid,omitempty"`
	Examples []string `json:"examples,omitempty"`

	// Categorical only.
	Distinct int            `json:"distinct,omitempty"`
	Unknown  map[string]int `json:"unknown,omitempty"`
}

// Report is the outcome of Inspect.
type Report struct {
	Rows          int           `json:"rows"`
	SchemaVersion string        `json:"schema_version"`
	Fields        []FieldReport `json:"fields"`
	// Ignored are upload columns that no schema field reads.
	Ignored []string `json:"ignored"`
}

// Options controls Inspect.
type Options struct {
	// Categorical lists the raw fields encoded one-hot. Empty means every
	// categorical field of the schema.
	Categorical     []string
	MissingCategory string
}

// Inspect reports how t would be encoded for s.
func Inspect(t records.Table, s *schema.Schema, opt Options) Report {
	var encOpts []encoder.Option
	if opt.MissingCategory != "" {
		encOpts = append(encOpts, encoder.WithMissingCategory(opt.MissingCategory))
	}
	enc := encoder.New(s, encOpts...)
	cats := opt.Categorical
	if len(cats) == 0 {
		cats = s.CategoricalFields()
	}

	rep := Report{Rows: t.Len(), SchemaVersion: s.Version()}
	used := map[string]bool{}

	for _, f := range s.Numeric() {
		used[f] = true
		rep.Fields = append(rep.Fields, inspectNumeric(t, f))
	}
	for _, f := range cats {
		if used[f] {
			continue
		}
		used[f] = true
		rep.Fields = append(rep.Fields, inspectCategorical(t, s, enc, f))
	}

	for _, c := range t.Columns {
		if !used[c] {
			rep.Ignored = append(rep.Ignored, c)
		}
	}
	return rep
}

func inspectNumeric(t records.Table, field string) FieldReport {
	fr := FieldReport{Field: field, Kind: KindNumeric, Present: t.HasColumn(field)}
	if !fr.Present {
		return fr
	}
	for _, r := range t.Rows {
		v, err := encoder.ParseNumber(r[field])
		switch {
		case err != nil:
			fr.Invalid++
			if len(fr.Examples) < maxExamples {
				fr.Examples = append(fr.Examples, fmt.Sprint(r[field]))
			}
		case math.IsNaN(v):
			fr.Blank++
		}
	}
	return fr
}

func inspectCategorical(t records.Table, s *schema.Schema, enc *encoder.Encoder, field string) FieldReport {
	fr := FieldReport{Field: field, Kind: KindCategorical, Present: t.HasColumn(field)}
	if !fr.Present {
		return fr
	}

	known := map[string]bool{}
	missing := enc.Category(nil)
	if g, ok := s.Group(field); ok {
		known[g.Reference] = true
		for _, c := range g.Categories {
			known[c] = true
		}
	}

	distinct := map[string]bool{}
	for _, r := range t.Rows {
		c := enc.Category(r[field])
		distinct[c] = true
		if c == missing {
			fr.Blank++
		}
		if !known[c] {
			if fr.Unknown == nil {
				fr.Unknown = map[string]int{}
			}
			fr.Unknown[c]++
		}
	}
	fr.Distinct = len(distinct)

	for _, c := range sortedKeys(distinct) {
		if len(fr.Examples) == maxExamples {
			break
		}
		fr.Examples = append(fr.Examples, c)
	}
	return fr
}

// Problems lists the findings that would reject or degrade a run, most
// severe first.
func (r Report) Problems() []string {
	var out []string
	for _, f := range r.Fields {
		if !f.Present {
			out = append(out, fmt.Sprintf("missing %s field %q (upload will be rejected)", f.Kind, f.Field))
		}
	}
	for _, f := range r.Fields {
		if f.Invalid > 0 {
			out = append(out, fmt.Sprintf("%d non-numeric values in %q (upload will be rejected)", f.Invalid, f.Field))
		}
	}
	for _, f := range r.Fields {
		for _, c := range sortedKeys(f.Unknown) {
			out = append(out, fmt.Sprintf("unseen category %s=%q in %d rows", f.Field, c, f.Unknown[c]))
		}
	}
	return out
}

// Text renders the report as an aligned table for terminals.
func (r Report) Text() string {
	if r.Rows == 0 {
		return "probe: no rows"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "probe report:\trows=%d\tschema=%s\n", r.Rows, r.SchemaVersion)
	fmt.Fprintf(&b, "%-24s\t%-11s\tpresent\tblank\tinvalid\tunknown\n", "field", "kind")
	for _, f := range r.Fields {
		unknown := 0
		for _, n := range f.Unknown {
			unknown += n
		}
		fmt.Fprintf(&b, "%-24s\t%-11s\t%t\t%d\t%d\t%d\n", f.Field, f.Kind, f.Present, f.Blank, f.Invalid, unknown)
	}
	if len(r.Ignored) > 0 {
		fmt.Fprintf(&b, "ignored columns: %s\n", strings.Join(r.Ignored, ", "))
	}
	for _, p := range r.Problems() {
		fmt.Fprintf(&b, "! %s\n", p)
	}
	return strings.TrimRight(b.String(), "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
