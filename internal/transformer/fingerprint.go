// Package transformer derives stable digests from aligned feature rows.
//
// A fingerprint identifies exactly what the model saw: the column names in
// schema order and the float values of each row. Two uploads that align to
// the same matrix get the same table fingerprint regardless of how the raw
// files were laid out.
package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
)

// FingerprintSpec controls the canonical form that is hashed.
type FingerprintSpec struct {
	// IncludeColumnNames writes "column=value" instead of bare values.
	IncludeColumnNames bool

	// Separator between components. Defaults to ASCII Unit Separator (0x1f).
	Separator string
}

// DefaultFingerprint names columns and uses the unit separator.
var DefaultFingerprint = FingerprintSpec{IncludeColumnNames: true}

// Row returns the lowercase hex SHA-256 of one aligned row.
//
// Canonicalization:
//   - values are written with strconv 'g' and shortest precision
//   - NaN is written as "null" so a missing value differs from 0
//   - -0 is written as "0"
//
// Row panics if len(row) != len(columns).
func (s FingerprintSpec) Row(columns []string, row []float64) string {
	if len(row) != len(columns) {
		panic("transformer: row width does not match columns")
	}
	var b strings.Builder
	b.Grow(len(columns) * 24)
	s.appendRow(&b, columns, row)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Rows fingerprints every row of a table, index-aligned with rows.
func (s FingerprintSpec) Rows(columns []string, rows [][]float64) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = s.Row(columns, r)
	}
	return out
}

// Table returns one digest covering the column list and all rows in order.
func (s FingerprintSpec) Table(columns []string, rows [][]float64) string {
	sep := s.sep()
	h := sha256.New()

	var b strings.Builder
	for i, c := range columns {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(c)
	}
	b.WriteByte('\n')
	_, _ = h.Write([]byte(b.String()))

	var scratch [64]byte
	for _, r := range rows {
		b.Reset()
		for i, v := range r {
			if i > 0 {
				b.WriteString(sep)
			}
			appendCanonicalFloat(&b, v, &scratch)
		}
		b.WriteByte('\n')
		_, _ = h.Write([]byte(b.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s FingerprintSpec) appendRow(b *strings.Builder, columns []string, row []float64) {
	sep := s.sep()
	var scratch [64]byte
	for i, v := range row {
		if i > 0 {
			b.WriteString(sep)
		}
		if s.IncludeColumnNames {
			b.WriteString(columns[i])
			b.WriteByte('=')
		}
		appendCanonicalFloat(b, v, &scratch)
	}
}

func (s FingerprintSpec) sep() string {
	if s.Separator == "" {
		return "\x1f"
	}
	return s.Separator
}

func appendCanonicalFloat(b *strings.Builder, v float64, scratch *[64]byte) {
	switch {
	case math.IsNaN(v):
		b.WriteString("null")
	case v == 0:
		b.WriteByte('0')
	default:
		b.Write(strconv.AppendFloat(scratch[:0], v, 'g', -1, 64))
	}
}
