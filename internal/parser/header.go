// Package parser holds the header and cell conventions shared by the upload
// parsers in its subpackages.
package parser

import (
	"fmt"
	"strings"

	"claimscore/internal/config"
	"claimscore/pkg/records"
)

// Header normalizes raw header names.
//
// For each name: trim, strip a leading BOM, then apply header_map if it has
// an entry for the trimmed name; otherwise lower-case and replace spaces
// with underscores. Empty names become "column_<n>" (1-based).
type Header struct {
	Map map[string]string
}

// HeaderFromOptions reads the header_map option.
func HeaderFromOptions(opt config.Options) Header {
	return Header{Map: opt.StringMap("header_map")}
}

// Normalize returns the column name for raw header i.
func (h Header) Normalize(i int, raw string) string {
	s := strings.TrimSpace(strings.TrimPrefix(raw, "\uFEFF"))
	if mapped, ok := h.Map[s]; ok {
		return mapped
	}
	s = strings.ReplaceAll(strings.ToLower(s), " ", "_")
	if s == "" {
		return fmt.Sprintf("column_%d", i+1)
	}
	return s
}

// Columns normalizes a whole header row and rejects duplicates after
// normalization.
func (h Header) Columns(raw []string) ([]string, error) {
	out := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, r := range raw {
		c := h.Normalize(i, r)
		if j, dup := seen[c]; dup {
			return nil, fmt.Errorf("header columns %d and %d both normalize to %q", j+1, i+1, c)
		}
		seen[c] = i
		out[i] = c
	}
	return out, nil
}

// Cell converts a text cell: trimmed when trim is set, and nil when empty.
func Cell(v string, trim bool) any {
	if trim {
		v = strings.TrimSpace(v)
	}
	if v == "" {
		return nil
	}
	return v
}

// Row builds a record from positional text cells. Missing trailing cells are
// nil; extra cells are dropped.
func Row(columns []string, cells []string, trim bool) records.Record {
	r := make(records.Record, len(columns))
	for i, c := range columns {
		if i < len(cells) {
			r[c] = Cell(cells[i], trim)
		} else {
			r[c] = nil
		}
	}
	return r
}

// Blank reports whether every cell is empty after trimming.
func Blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
