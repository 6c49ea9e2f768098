package records

import "errors"

// ErrInputFormat marks an upload that cannot be turned into features: an
// unsupported or unparseable file, a missing required column, or a value of
// the wrong kind. It is terminal for the upload and reported to the user.
var ErrInputFormat = errors.New("input format error")
