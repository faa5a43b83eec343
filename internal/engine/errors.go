package engine

import "errors"

var (
	// ErrResetConflict means the custom record changed after its end event was resolved
	// and the newer write was kept
	ErrResetConflict = errors.New("custom schedule changed before reset")
	ErrUnknownEvent  = errors.New("unknown event type")
)
