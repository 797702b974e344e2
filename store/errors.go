package store

import "errors"

var (
	// ErrNotFound is returned when an id does not name a stored entity.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when the expected version is stale.
	ErrVersionConflict = errors.New("version conflict")
	// ErrOutOfOrder is returned when a log line index is not the next one.
	ErrOutOfOrder = errors.New("log line out of order")
)
