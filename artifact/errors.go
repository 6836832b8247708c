package artifact

import "errors"

var (
	// ErrNotFound is returned when no artifact exists for the given
	// session / id pair.
	ErrNotFound = errors.New("artifact not found")
)
