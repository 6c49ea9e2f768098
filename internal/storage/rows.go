package storage

import (
	"encoding/json"
	"fmt"
	"math"

	"claimscore/internal/label"
)

// FromResult converts a labelled result into persistable rows. fingerprints
// must hold one digest per row (as produced by transformer.Rows).
func FromResult(res *label.Result, fingerprints []string) ([]ResultRow, error) {
	if len(fingerprints) != len(res.Rows) {
		return nil, fmt.Errorf("storage: %d fingerprints for %d rows", len(fingerprints), len(res.Rows))
	}

	out := make([]ResultRow, len(res.Rows))
	for i, r := range res.Rows {
		features, err := featuresJSON(res.Columns, r.Features)
		if err != nil {
			return nil, fmt.Errorf("storage: row %d: %w", i, err)
		}
		out[i] = ResultRow{
			Index:       i,
			Prediction:  r.Prediction,
			Label:       r.Label,
			Features:    features,
			Fingerprint: fingerprints[i],
		}
	}
	return out, nil
}

// featuresJSON renders a feature row as a JSON object. Keys are sorted by
// encoding/json; NaN becomes null.
func featuresJSON(columns []string, values []float64) (string, error) {
	if len(columns) != len(values) {
		return "", fmt.Errorf("%d values for %d columns", len(values), len(columns))
	}
	m := make(map[string]*float64, len(columns))
	for i, c := range columns {
		if math.IsNaN(values[i]) {
			m[c] = nil
			continue
		}
		v := values[i]
		m[c] = &v
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
