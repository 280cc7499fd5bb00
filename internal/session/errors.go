package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned by Try* reads when the subsystem is busy.
	ErrUnavailable = errors.New("resource unavailable")
	// ErrNotConnected is returned when an action needs a transport and none is attached.
	ErrNotConnected = errors.New("not connected")
	// ErrNotInWorld is returned by actions that need an active world.
	ErrNotInWorld = errors.New("not in a world")
	// ErrNoPath is returned by FindPath when the target is unreachable.
	ErrNoPath = errors.New("no path to target")
)

// ShapeError reports a recognized event whose arguments do not have the
// expected shape. The event is dropped; the session continues.
type ShapeError struct {
	Event string
	Err   error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.Event, e.Err)
}

func (e *ShapeError) Unwrap() error { return e.Err }

func shape(event string, err error) error {
	if err == nil {
		return nil
	}
	return &ShapeError{Event: event, Err: err}
}
