package encoder

import (
	"fmt"

	"claimscore/pkg/records"
)

// MissingColumnError reports a numeric or categorical field absent from the
// upload.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("encode: upload has no column %q", e.Column)
}

func (e *MissingColumnError) Is(target error) bool { return target == records.ErrInputFormat }

// ValueError reports a numeric cell that could not be parsed.
type ValueError struct {
	Row    int // 1-based data row
	Column string
	Value  any
	Err    error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("encode: row %d column %q: %v is not numeric: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *ValueError) Unwrap() error { return e.Err }

func (e *ValueError) Is(target error) bool { return target == records.ErrInputFormat }
