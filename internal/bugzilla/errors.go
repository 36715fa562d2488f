package bugzilla

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for bad caller input, before any network call.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownAttribute is matched by every *UnknownAttributeError.
	ErrUnknownAttribute = errors.New("unknown attribute")
	// ErrUpdateMismatch means the service echoed a different bug id than the one updated.
	ErrUpdateMismatch = errors.New("update id mismatch")
	// ErrNotFound is returned when the service has no record for a bug id.
	ErrNotFound = errors.New("bug not found")
)

// UnknownAttributeError names a local attribute that is not in the attribute map.
type UnknownAttributeError struct {
	Name string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("unknown attribute %q", e.Name)
}

// Is lets errors.Is(err, ErrUnknownAttribute) match.
func (e *UnknownAttributeError) Is(target error) bool {
	return target == ErrUnknownAttribute
}
