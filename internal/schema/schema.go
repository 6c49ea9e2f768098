// Package schema is the registry of feature columns a trained classifier
// consumes.
//
// A Schema is built once at process start and never mutated afterwards. All
// accessors hand out copies, so a single *Schema can be shared by any number
// of concurrent pipeline invocations without locking.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"claimscore/internal/parser"
)

// Definition is the on-disk (or built-in) description of a schema.
//
// Columns is the authoritative ordered list. Numeric and Categorical only
// classify those columns; they never add columns of their own.
type Definition struct {
	Version     string     `json:"version" yaml:"version"`
	Columns     []string   `json:"columns" yaml:"columns"`
	Numeric     []string   `json:"numeric" yaml:"numeric"`
	Categorical []GroupDef `json:"categorical" yaml:"categorical"`
}

// GroupDef declares one raw categorical field and the category that was
// dropped (drop-first) when the classifier was trained.
type GroupDef struct {
	Field     string `json:"field" yaml:"field"`
	Reference string `json:"reference" yaml:"reference"`
}

// Group is a validated categorical group.
type Group struct {
	Field     string
	Reference string
	// Categories are the non-reference categories seen at training time, in
	// schema column order.
	Categories []string
	// Columns are the indicator column names, aligned with Categories.
	Columns []string
}

// Schema is the immutable, ordered feature-column registry.
type Schema struct {
	version string
	columns []string
	index   map[string]int
	numeric []string
	groups  []Group
	byField map[string]int
}

// IndicatorName returns the one-hot column name for field=category.
func IndicatorName(field, category string) string {
	return field + "_" + category
}

// New validates def and builds a Schema.
//
// Errors:
//   - empty column list or duplicate columns
//   - a numeric field that is not listed in Columns (or listed twice)
//   - a categorical group without a field or reference category
//   - a column that is neither numeric nor an indicator of a declared group
//   - an indicator column for a group's reference category
//   - a numeric or categorical field name that upload header normalization
//     would rewrite (upper case, surrounding or inner spaces)
func New(def Definition) (*Schema, error) {
	if len(def.Columns) == 0 {
		return nil, fmt.Errorf("schema: no columns")
	}

	s := &Schema{
		version: def.Version,
		columns: append([]string(nil), def.Columns...),
		index:   make(map[string]int, len(def.Columns)),
		numeric: append([]string(nil), def.Numeric...),
		byField: make(map[string]int, len(def.Categorical)),
	}

	for i, c := range s.columns {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("schema: column %d has an empty name", i)
		}
		if _, dup := s.index[c]; dup {
			return nil, fmt.Errorf("schema: duplicate column %q", c)
		}
		s.index[c] = i
	}

	isNumeric := make(map[string]bool, len(s.numeric))
	for _, n := range s.numeric {
		if isNumeric[n] {
			return nil, fmt.Errorf("schema: numeric field %q declared twice", n)
		}
		if _, ok := s.index[n]; !ok {
			return nil, fmt.Errorf("schema: numeric field %q is not a schema column", n)
		}
		if err := checkFieldName(n); err != nil {
			return nil, err
		}
		isNumeric[n] = true
	}

	for _, g := range def.Categorical {
		if g.Field == "" {
			return nil, fmt.Errorf("schema: categorical group without field")
		}
		if g.Reference == "" {
			return nil, fmt.Errorf("schema: categorical field %q has no reference category", g.Field)
		}
		if _, dup := s.byField[g.Field]; dup {
			return nil, fmt.Errorf("schema: categorical field %q declared twice", g.Field)
		}
		if isNumeric[g.Field] {
			return nil, fmt.Errorf("schema: field %q is declared both numeric and categorical", g.Field)
		}
		if err := checkFieldName(g.Field); err != nil {
			return nil, err
		}
		s.byField[g.Field] = len(s.groups)
		s.groups = append(s.groups, Group{Field: g.Field, Reference: g.Reference})
	}

	// Longest field first so "a_b" wins over "a" for column "a_b_c".
	fields := make([]string, 0, len(s.groups))
	for _, g := range s.groups {
		fields = append(fields, g.Field)
	}
	sort.Slice(fields, func(i, j int) bool { return len(fields[i]) > len(fields[j]) })

	for _, c := range s.columns {
		if isNumeric[c] {
			continue
		}
		field, category, ok := splitIndicator(c, fields)
		if !ok {
			return nil, fmt.Errorf("schema: column %q is neither numeric nor an indicator of a declared categorical field", c)
		}
		g := &s.groups[s.byField[field]]
		if category == g.Reference {
			return nil, fmt.Errorf("schema: column %q encodes the reference category of %q", c, field)
		}
		g.Categories = append(g.Categories, category)
		g.Columns = append(g.Columns, c)
	}

	return s, nil
}

// checkFieldName rejects a field no upload column could ever match: every
// parser renames headers through parser.Header before the encoder looks
// them up.
func checkFieldName(f string) error {
	if norm := (parser.Header{}).Normalize(0, f); norm != f {
		return fmt.Errorf("schema: field %q does not match upload headers (they normalize to %q)", f, norm)
	}
	return nil
}

// MustNew is New for definitions known to be valid.
func MustNew(def Definition) *Schema {
	s, err := New(def)
	if err != nil {
		panic(err)
	}
	return s
}

// Load reads a definition from a .json, .yaml or .yml file.
func Load(path string) (*Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}

	var def Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &def); err != nil {
			return nil, fmt.Errorf("schema: decode %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &def); err != nil {
			return nil, fmt.Errorf("schema: decode %s: %w", path, err)
		}
	}
	return New(def)
}

func splitIndicator(column string, fieldsLongestFirst []string) (field, category string, ok bool) {
	for _, f := range fieldsLongestFirst {
		p := f + "_"
		if strings.HasPrefix(column, p) && len(column) > len(p) {
			return f, column[len(p):], true
		}
	}
	return "", "", false
}

// Version is the free-form artifact version, if the definition carried one.
func (s *Schema) Version() string { return s.version }

// Len is the number of feature columns.
func (s *Schema) Len() int { return len(s.columns) }

// Columns returns a copy of the ordered feature columns.
func (s *Schema) Columns() []string { return append([]string(nil), s.columns...) }

// Column returns the i-th feature column name.
func (s *Schema) Column(i int) string { return s.columns[i] }

// Numeric returns a copy of the numeric passthrough fields in declaration order.
func (s *Schema) Numeric() []string { return append([]string(nil), s.numeric...) }

// Index returns the position of column, or -1.
func (s *Schema) Index(column string) int {
	if i, ok := s.index[column]; ok {
		return i
	}
	return -1
}

// Has reports whether column is part of the schema.
func (s *Schema) Has(column string) bool {
	_, ok := s.index[column]
	return ok
}

// Groups returns copies of all categorical groups in declaration order.
func (s *Schema) Groups() []Group {
	out := make([]Group, len(s.groups))
	for i, g := range s.groups {
		out[i] = g.clone()
	}
	return out
}

// Group returns the categorical group for field.
func (s *Schema) Group(field string) (Group, bool) {
	i, ok := s.byField[field]
	if !ok {
		return Group{}, false
	}
	return s.groups[i].clone(), true
}

// CategoricalFields returns the declared categorical field names.
func (s *Schema) CategoricalFields() []string {
	out := make([]string, len(s.groups))
	for i, g := range s.groups {
		out[i] = g.Field
	}
	return out
}

// Equal reports whether cols is list-equal to the schema: same count, same
// names, same order.
func (s *Schema) Equal(cols []string) bool {
	return FirstDifference(s.columns, cols) < 0
}

// FirstDifference returns the first position where want and got differ, or
// -1 when they are list-equal. A length difference reports the shorter length.
func FirstDifference(want, got []string) int {
	n := len(want)
	if len(got) < n {
		n = len(got)
	}
	for i := 0; i < n; i++ {
		if want[i] != got[i] {
			return i
		}
	}
	if len(want) != len(got) {
		return n
	}
	return -1
}

func (g Group) clone() Group {
	return Group{
		Field:      g.Field,
		Reference:  g.Reference,
		Categories: append([]string(nil), g.Categories...),
		Columns:    append([]string(nil), g.Columns...),
	}
}
