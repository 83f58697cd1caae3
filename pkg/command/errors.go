package command

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a lookup for a command that is not registered.
var ErrNotFound = errors.New("command not found")

// DuplicateError reports a registration that collides with an existing
// command name.
type DuplicateError struct {
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("command already registered: %s", e.Name)
}

// ValidationError reports a request parameter that failed schema
// validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}
