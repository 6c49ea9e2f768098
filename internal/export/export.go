// Package export writes labelled results: CSV and XLSX tables, a summary of
// the label shares with a PNG chart, and uploads of those files to Cloud
// Storage.
package export

import (
	"math"
	"sort"
	"strconv"

	"claimscore/internal/label"
)

// Default file names used by the claims desk.
const (
	DefaultCSVName   = "resultats_fraude.csv"
	DefaultXLSXName  = "resultats_fraude.xlsx"
	DefaultChartName = "resultats_fraude.png"
)

// PredictionColumn is appended after the feature columns.
const PredictionColumn = "prediction"

// Share is the count and percentage of one label.
type Share struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Summary aggregates a result by label, sorted by label.
type Summary struct {
	Total  int     `json:"total"`
	Shares []Share `json:"shares"`
}

// Summarize counts rows per label.
func Summarize(res *label.Result) Summary {
	counts := map[string]int{}
	for _, r := range res.Rows {
		counts[r.Label]++
	}
	s := Summary{Total: len(res.Rows), Shares: make([]Share, 0, len(counts))}
	for l, n := range counts {
		s.Shares = append(s.Shares, Share{Label: l, Count: n, Percent: 100 * float64(n) / float64(s.Total)})
	}
	sort.Slice(s.Shares, func(i, j int) bool { return s.Shares[i].Label < s.Shares[j].Label })
	return s
}

func header(res *label.Result) []string {
	h := make([]string, 0, len(res.Columns)+1)
	h = append(h, res.Columns...)
	return append(h, PredictionColumn)
}

// formatValue renders a feature value; NaN is empty.
func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
