package badge

import "errors"

var (
	// ErrStorage is returned when the persisted list cannot be read or written.
	ErrStorage = errors.New("badge: storage failure")

	// ErrEmptyCode is returned when adding an empty code.
	ErrEmptyCode = errors.New("badge: empty code")
)
