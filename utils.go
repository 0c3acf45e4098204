package rpki

import (
	"errors"
)

var (
	// ErrTruncated is a parsing error returned when the input seems to have
	// been truncated.
	ErrTruncated = errors.New("Input truncated")

	// ErrExtraBytes is a parsing error returned when there are extraneous
	// bytes at the end of, or within, the data.
	ErrExtraBytes = errors.New("Unexpected extra (internal) bytes")

	// ErrMalformed is returned when the input is well-framed DER but does
	// not have the structure RPKI requires.
	ErrMalformed = errors.New("Malformed structure")
)
