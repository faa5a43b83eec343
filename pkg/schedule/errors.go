package schedule

import "errors"

var (
	ErrMalformedTime = errors.New("malformed time of day")
	ErrMissingField  = errors.New("missing field")
	ErrInvalidKind   = errors.New("invalid kind")
	ErrInvalidID     = errors.New("invalid id")
)
