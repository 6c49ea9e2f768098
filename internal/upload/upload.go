// Package upload turns an uploaded claims file into a records.Table by
// dispatching to the format parsers. Every parse failure is reported as a
// *FormatError, which matches records.ErrInputFormat.
package upload

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"claimscore/internal/config"
	"claimscore/internal/parser/csv"
	"claimscore/internal/parser/html"
	"claimscore/internal/parser/json"
	"claimscore/internal/parser/xlsx"
	"claimscore/pkg/records"
)

// Kind is an upload format.
type Kind string

const (
	CSV  Kind = "csv"
	JSON Kind = "json"
	HTML Kind = "html"
	XLSX Kind = "xlsx"
)

type readFunc func(ctx context.Context, r io.Reader, opt config.Options) (records.Table, error)

var readers = map[Kind]readFunc{
	CSV:  csv.ReadTable,
	JSON: json.ReadTable,
	HTML: html.ReadTable,
	XLSX: xlsx.ReadTable,
}

// KindFromName infers the format from a file name's extension.
func KindFromName(name string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".tsv":
		return CSV, true
	case ".json", ".jsonl", ".ndjson":
		return JSON, true
	case ".html", ".htm":
		return HTML, true
	case ".xlsx", ".xlsm":
		return XLSX, true
	default:
		return "", false
	}
}

// Resolve picks the upload kind: an explicit configured kind wins, otherwise
// it is inferred from name.
func Resolve(configured, name string) (Kind, error) {
	if configured != "" {
		k := Kind(strings.ToLower(configured))
		if _, ok := readers[k]; !ok {
			return "", &FormatError{Kind: k, Err: fmt.Errorf("unsupported format")}
		}
		return k, nil
	}
	k, ok := KindFromName(name)
	if !ok {
		return "", &FormatError{Name: name, Err: fmt.Errorf("cannot infer format from file name")}
	}
	return k, nil
}

// Read parses r as kind. A tab-separated .tsv name selects a tab delimiter
// unless the options already set one.
func Read(ctx context.Context, kind Kind, name string, r io.Reader, opt config.Options) (records.Table, error) {
	read, ok := readers[kind]
	if !ok {
		return records.Table{}, &FormatError{Kind: kind, Name: name, Err: fmt.Errorf("unsupported format")}
	}
	if kind == CSV && strings.EqualFold(filepath.Ext(name), ".tsv") && opt.Any("comma") == nil {
		opt = withOption(opt, "comma", "\t")
	}

	t, err := read(ctx, r, opt)
	if err != nil {
		if ctx.Err() != nil {
			return records.Table{}, ctx.Err()
		}
		return records.Table{}, &FormatError{Kind: kind, Name: name, Err: err}
	}
	return t, nil
}

func withOption(opt config.Options, key string, v any) config.Options {
	out := make(config.Options, len(opt)+1)
	for k, val := range opt {
		out[k] = val
	}
	out[key] = v
	return out
}

// FormatError reports an upload that could not be parsed.
type FormatError struct {
	Kind Kind
	Name string
	Err  error
}

func (e *FormatError) Error() string {
	switch {
	case e.Name != "" && e.Kind != "":
		return fmt.Sprintf("read %s upload %s: %v", e.Kind, e.Name, e.Err)
	case e.Name != "":
		return fmt.Sprintf("read upload %s: %v", e.Name, e.Err)
	default:
		return fmt.Sprintf("read %s upload: %v", e.Kind, e.Err)
	}
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == records.ErrInputFormat }
