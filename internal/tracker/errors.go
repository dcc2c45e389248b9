package tracker

import "errors"

var (
	// ErrValidation marks rejected mutator input. The wrapped
	// *validation.Error lists the offending fields.
	ErrValidation = errors.New("invalid challenge input")

	// ErrVariantMismatch is returned when a whole-day toggle targets an entry
	// that holds per-task data.
	ErrVariantMismatch = errors.New("day entry holds task data, not a completion flag")
)
