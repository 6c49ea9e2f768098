// Package json reads JSON claim uploads into a records.Table.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"claimscore/internal/config"
	"claimscore/internal/parser"
	"claimscore/pkg/records"
)

// ReadTable decodes a JSON upload.
//
// Accepted shapes:
//   - a root array of objects
//   - a root object whose first array field holds the objects (envelope),
//     or the field named by the "records_field" option
//   - a single root object, read as one claim
//   - any of the above followed by newline-delimited objects
//
// Keys are normalized like CSV headers (header_map, else lower-case with
// underscores). Columns are the union of keys; each object contributes its
// new keys in sorted order. Numbers are kept as json.Number; arrays of
// strings are joined with "array_join_separator" (default ",").
func ReadTable(ctx context.Context, r io.Reader, opt config.Options) (records.Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	sep := opt.String("array_join_separator", ",")
	if sep == "" {
		sep = ","
	}
	b := &builder{
		hdr:   parser.HeaderFromOptions(opt),
		trim:  opt.Bool("trim_space", true),
		sep:   sep,
		index: map[string]bool{},
	}
	recordsField := opt.String("records_field", "")

	tok, err := dec.Token()
	if err == io.EOF {
		return records.Table{}, nil
	}
	if err != nil {
		return records.Table{}, fmt.Errorf("json: read first token: %w", err)
	}

	switch d := tok.(type) {
	case json.Delim:
		switch d {
		case '[':
			if err := readArrayOfObjects(ctx, dec, b.add); err != nil {
				return records.Table{}, err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return records.Table{}, err
			}

		case '{':
			found, single, err := readEnvelopeOrSingle(ctx, dec, recordsField, b.add)
			if err != nil {
				return records.Table{}, err
			}
			if err := expectDelim(dec, '}'); err != nil {
				return records.Table{}, err
			}
			if !found {
				if recordsField != "" {
					return records.Table{}, fmt.Errorf("json: records field %q not found", recordsField)
				}
				b.add(single)
			}

		default:
			return records.Table{}, fmt.Errorf("json: unsupported root delimiter %q", d)
		}

	default:
		return records.Table{}, fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	if err := readTrailingObjects(ctx, dec, b.add); err != nil {
		return records.Table{}, err
	}
	return b.table, nil
}

type builder struct {
	hdr   parser.Header
	trim  bool
	sep   string
	index map[string]bool
	table records.Table
}

func (b *builder) add(obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := make(records.Record, len(obj))
	for i, k := range keys {
		v := obj[k]
		col := b.hdr.Normalize(i, k)
		if !b.index[col] {
			b.index[col] = true
			b.table.Columns = append(b.table.Columns, col)
		}
		rec[col] = b.scalar(v)
	}
	b.table.Rows = append(b.table.Rows, rec)
}

// scalar flattens array-of-strings to a joined string and trims strings.
func (b *builder) scalar(v any) any {
	switch t := v.(type) {
	case string:
		return parser.Cell(t, b.trim)
	case []any:
		ss := make([]string, 0, len(t))
		for _, it := range t {
			if it == nil {
				continue
			}
			s, ok := it.(string)
			if !ok {
				return v
			}
			ss = append(ss, s)
		}
		if len(ss) == 0 {
			return nil
		}
		return strings.Join(ss, b.sep)
	default:
		return v
	}
}

func readTrailingObjects(ctx context.Context, dec *json.Decoder, emit func(map[string]any)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if obj != nil {
			emit(obj)
		}
	}
}

// readArrayOfObjects reads elements of the current array (after '[').
// null elements are skipped; any other non-object is an error.
func readArrayOfObjects(ctx context.Context, dec *json.Decoder, emit func(map[string]any)) error {
	for n := 1; dec.More(); n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("json: decode element %d: %w", n, err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("json: element %d is not an object (got %T)", n, raw)
		}
		emit(obj)
	}
	return nil
}

// readEnvelopeOrSingle walks a root object (after '{').
//
// The first array field (or the field named want) is read as the record
// list and the remaining fields are skipped. Without such a field, the
// whole object is returned as a single record.
func readEnvelopeOrSingle(ctx context.Context, dec *json.Decoder, want string, emit func(map[string]any)) (found bool, single map[string]any, _ error) {
	single = make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, nil, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read value of %q: %w", key, err)
		}

		if delim, ok := valTok.(json.Delim); ok && delim == '[' && (want == "" || want == key) {
			if err := readArrayOfObjects(ctx, dec, emit); err != nil {
				return false, nil, err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return false, nil, err
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, nil, fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipNextValue(dec); err != nil {
					return true, nil, err
				}
			}
			return true, nil, nil
		}

		val, err := materialize(dec, valTok)
		if err != nil {
			return false, nil, err
		}
		single[key] = val
	}

	return false, single, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if end != want {
		return fmt.Errorf("json: expected %q, got %v", want, end)
	}
	return nil
}

func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value: %w", err)
	}
	_, err = materialize(dec, tok)
	return err
}

// materialize builds the Go value whose first token has been read.
func materialize(dec *json.Decoder, tok any) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch d {
	case '{':
		m := make(map[string]any)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("json: nested key not a string (got %T)", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested value: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, expectDelim(dec, '}')

	case '[':
		var arr []any
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested element: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, expectDelim(dec, ']')

	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", d)
	}
}
