package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"claimscore/internal/label"
)

// WriteCSV writes the aligned features of every row followed by its label.
func WriteCSV(w io.Writer, res *label.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(res)); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	rec := make([]string, len(res.Columns)+1)
	for i, r := range res.Rows {
		for j, v := range r.Features {
			rec[j] = formatValue(v)
		}
		rec[len(res.Columns)] = r.Label
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
