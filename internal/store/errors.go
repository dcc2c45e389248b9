package store

import "errors"

var (
	ErrNotFound        = errors.New("document not found")
	ErrUnavailable     = errors.New("store unavailable")
	ErrNotBoolean      = errors.New("field is not a boolean")
	ErrCompacted       = errors.New("change log compacted past requested sequence")
	ErrInvalidDocument = errors.New("document is not a JSON object")
	ErrInvalidPath     = errors.New("invalid field path")
	ErrClosed          = errors.New("store is closed")
)
