package store

import "errors"

var (
	ErrNotFound    = errors.New("schedule record not found")
	ErrConflict    = errors.New("schedule record version conflict")
	ErrUnavailable = errors.New("schedule store unavailable")
	// ErrCorrupt marks a stored row whose fields cannot be decoded
	ErrCorrupt = errors.New("schedule record corrupt")
)
