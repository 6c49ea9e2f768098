// Package xlsx reads spreadsheet claim uploads into a records.Table.
package xlsx

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"claimscore/internal/config"
	"claimscore/internal/parser"
	"claimscore/pkg/records"
)

// ReadTable reads one worksheet. Cells are read as displayed text, so
// numeric cells arrive as strings and are parsed by the encoder.
//
// Options:
//   - sheet (string): worksheet name, default the first sheet
//   - header_row (int, 1-based, default 1): rows above it are ignored
//   - header_map, trim_space (default true), skip_blank_lines (default true)
func ReadTable(ctx context.Context, r io.Reader, opt config.Options) (records.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return records.Table{}, fmt.Errorf("xlsx: open workbook: %w", err)
	}
	defer f.Close()

	sheet := opt.String("sheet", "")
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return records.Table{}, fmt.Errorf("xlsx: workbook has no sheets")
		}
		sheet = sheets[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return records.Table{}, fmt.Errorf("xlsx: sheet %q not found", sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return records.Table{}, fmt.Errorf("xlsx: read sheet %q: %w", sheet, err)
	}

	headerRow := opt.Int("header_row", 1)
	if headerRow < 1 {
		return records.Table{}, fmt.Errorf("xlsx: header_row must be >= 1, got %d", headerRow)
	}
	if len(rows) < headerRow {
		return records.Table{}, nil
	}

	hdr := parser.HeaderFromOptions(opt)
	trim := opt.Bool("trim_space", true)
	skipBlank := opt.Bool("skip_blank_lines", true)

	var out records.Table
	if out.Columns, err = hdr.Columns(trimTrailingEmpty(rows[headerRow-1])); err != nil {
		return records.Table{}, fmt.Errorf("xlsx: %w", err)
	}

	for i, row := range rows[headerRow:] {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return records.Table{}, err
			}
		}
		if skipBlank && parser.Blank(row) {
			continue
		}
		row = trimTrailingEmpty(row)
		if len(row) > len(out.Columns) {
			return records.Table{}, fmt.Errorf("xlsx: sheet %q row %d has %d cells, header has %d",
				sheet, headerRow+i+1, len(row), len(out.Columns))
		}
		out.Rows = append(out.Rows, parser.Row(out.Columns, row, trim))
	}
	return out, nil
}

// trimTrailingEmpty drops empty cells at the end of a row; spreadsheets often
// carry formatted but empty trailing cells.
func trimTrailingEmpty(row []string) []string {
	n := len(row)
	for n > 0 && row[n-1] == "" {
		n--
	}
	return row[:n]
}
