package variant

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the buffer ends inside an entry.
	ErrTruncated = errors.New("variant list truncated")
	// ErrTypeMismatch is returned by typed accessors when the tag differs.
	ErrTypeMismatch = errors.New("variant type mismatch")
	// ErrMissingArgument is returned when an index is beyond the list length.
	ErrMissingArgument = errors.New("variant argument missing")
)

// DecodeError describes a malformed buffer or a failed typed access.
type DecodeError struct {
	Err    error
	Index  int
	Want   Kind
	Got    Kind
	Offset int
}

func (e *DecodeError) Error() string {
	switch {
	case errors.Is(e.Err, ErrTypeMismatch):
		return fmt.Sprintf("%v: index %d want %s got %s", e.Err, e.Index, e.Want, e.Got)
	case errors.Is(e.Err, ErrMissingArgument):
		return fmt.Sprintf("%v: index %d", e.Err, e.Index)
	default:
		return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

func mismatch(want, got Kind) error {
	return &DecodeError{Err: ErrTypeMismatch, Index: -1, Want: want, Got: got}
}
