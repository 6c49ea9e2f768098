// Package csv reads delimited claim uploads into a records.Table.
package csv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"claimscore/internal/config"
	"claimscore/internal/parser"
	"claimscore/pkg/records"
)

// ReadTable parses a delimited upload. Columns come from the header row in
// file order; every data row becomes one record.
//
// Options:
//   - has_header (bool, default true); without a header, "columns" names the
//     fields, falling back to column_1..column_n
//   - comma (string, default ","); "auto" sniffs , ; tab or | from the first line
//   - charset (string, e.g. "windows-1252"); input is decoded to UTF-8
//   - trim_space (bool, default true)
//   - lazy_quotes (bool, default false)
//   - fields_per_record (int, default 0: every row must match the first)
//   - skip_blank_lines (bool, default true)
//   - header_map (object): raw header -> column name
func ReadTable(ctx context.Context, src io.Reader, opt config.Options) (records.Table, error) {
	r, err := decodeCharset(src, opt.String("charset", ""))
	if err != nil {
		return records.Table{}, err
	}

	br := bufio.NewReader(r)
	comma := opt.Rune("comma", ',')
	if opt.String("comma", "") == "auto" {
		comma = sniffComma(br)
	}

	trim := opt.Bool("trim_space", true)
	skipBlank := opt.Bool("skip_blank_lines", true)
	hdr := parser.HeaderFromOptions(opt)

	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = opt.Int("fields_per_record", 0)

	var t records.Table

	if opt.Bool("has_header", true) {
		raw, err := cr.Read()
		if err == io.EOF {
			return records.Table{}, nil
		}
		if err != nil {
			return records.Table{}, fmt.Errorf("read header: %w", err)
		}
		if t.Columns, err = hdr.Columns(raw); err != nil {
			return records.Table{}, err
		}
	} else if names := opt.Strings("columns"); len(names) > 0 {
		if t.Columns, err = hdr.Columns(names); err != nil {
			return records.Table{}, err
		}
	}

	for n := 0; ; n++ {
		if n%512 == 0 {
			if err := ctx.Err(); err != nil {
				return records.Table{}, err
			}
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return records.Table{}, fmt.Errorf("csv line %d: %w", pe.Line, pe.Err)
			}
			return records.Table{}, fmt.Errorf("csv read: %w", err)
		}
		if skipBlank && parser.Blank(rec) {
			continue
		}

		if t.Columns == nil {
			t.Columns = make([]string, len(rec))
			for i := range rec {
				t.Columns[i] = hdr.Normalize(i, "")
			}
		}
		t.Rows = append(t.Rows, parser.Row(t.Columns, rec, trim))
	}
}

func decodeCharset(r io.Reader, name string) (io.Reader, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	return enc.NewDecoder().Reader(r), nil
}

// sniffComma picks the candidate delimiter that occurs most often in the
// first line. Ties keep the earlier candidate, so "," wins by default.
func sniffComma(br *bufio.Reader) rune {
	line, _ := br.Peek(4096)
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	best, bestN := ',', 0
	for _, c := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(line, []byte(string(c))); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}
