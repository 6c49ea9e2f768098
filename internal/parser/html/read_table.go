// Package html reads a claims table out of an HTML page, such as a report
// saved from the claims desk web tool.
package html

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"claimscore/internal/config"
	"claimscore/internal/parser"
	"claimscore/pkg/records"
)

// ReadTable parses the first element matching "table_selector" (default
// "table"). The header is the first row that contains th cells, or the first
// row when has_header is true and no th is present. Cell text has its
// whitespace collapsed.
//
// Options: table_selector, has_header (default true), header_map,
// trim_space (default true), skip_blank_lines (default true).
func ReadTable(ctx context.Context, r io.Reader, opt config.Options) (records.Table, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return records.Table{}, fmt.Errorf("html: parse document: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return records.Table{}, err
	}

	sel := opt.String("table_selector", "table")
	table := doc.Find(sel).First()
	if table.Length() == 0 {
		return records.Table{}, fmt.Errorf("html: no element matches %q", sel)
	}

	hdr := parser.HeaderFromOptions(opt)
	hasHeader := opt.Bool("has_header", true)
	trim := opt.Bool("trim_space", true)
	skipBlank := opt.Bool("skip_blank_lines", true)

	var out records.Table
	var rowErr error

	// Rows of nested tables belong to those tables.
	rows := table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.ParentsFiltered("table").First().IsSelection(table)
	})

	rows.EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := cellTexts(tr)
		isHeader := tr.Find("th").Length() > 0

		if out.Columns == nil {
			if isHeader || hasHeader {
				out.Columns, rowErr = hdr.Columns(cells)
				return rowErr == nil
			}
			out.Columns = make([]string, len(cells))
			for i := range cells {
				out.Columns[i] = hdr.Normalize(i, "")
			}
		} else if isHeader && tr.Find("td").Length() == 0 {
			// Repeated header rows in long reports.
			return true
		}

		if skipBlank && parser.Blank(cells) {
			return true
		}
		if len(cells) > len(out.Columns) {
			rowErr = fmt.Errorf("html: row %d has %d cells, header has %d", len(out.Rows)+1, len(cells), len(out.Columns))
			return false
		}
		out.Rows = append(out.Rows, parser.Row(out.Columns, cells, trim))
		return true
	})
	if rowErr != nil {
		return records.Table{}, rowErr
	}
	return out, nil
}

func cellTexts(tr *goquery.Selection) []string {
	cells := tr.ChildrenFiltered("th, td")
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, strings.Join(strings.Fields(c.Text()), " "))
	})
	return out
}
