package export

import (
	"fmt"
	"io"
	"math"

	"github.com/xuri/excelize/v2"

	"claimscore/internal/label"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "results"

// WriteXLSX writes the same table as WriteCSV to a workbook with a single
// "results" sheet. Feature cells are numeric; missing values are blank.
func WriteXLSX(w io.Writer, res *label.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("xlsx: stream writer: %w", err)
	}

	hdr := header(res)
	cells := make([]any, len(hdr))
	for i, h := range hdr {
		cells[i] = h
	}
	if err := sw.SetRow("A1", cells); err != nil {
		return fmt.Errorf("xlsx: header: %w", err)
	}

	for i, r := range res.Rows {
		row := make([]any, len(hdr))
		for j, v := range r.Features {
			if !math.IsNaN(v) {
				row[j] = v
			}
		}
		row[len(res.Columns)] = r.Label

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("xlsx: row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("xlsx: flush: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx: write: %w", err)
	}
	return nil
}
