// Package records holds the raw, upload-shaped table passed from the
// ingestion parsers into the scoring core.
package records

// Record is one uploaded row keyed by (normalized) column name.
//
// Values are whatever the parser produced: string, float64, int64,
// json.Number, bool or nil. A nil value means the cell was empty.
type Record map[string]any

// Table is an ordered sequence of records sharing one column set.
//
// Columns is the upload's header order. It is informational only; the core
// never relies on it for feature order.
type Table struct {
	Columns []string
	Rows    []Record
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// HasColumn reports whether the upload header contains name.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}
