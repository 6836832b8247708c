package plugin

import "errors"

var (
	// ErrNotFound is returned when a plugin name is not registered.
	ErrNotFound = errors.New("plugin not found")

	// ErrAlreadyRegistered is returned when a plugin name is taken.
	ErrAlreadyRegistered = errors.New("plugin already registered")

	// ErrNotActive is returned when an operation requires an active plugin.
	ErrNotActive = errors.New("plugin not active")

	// ErrCapabilityUnavailable is returned by context methods whose backing
	// capability the host did not wire.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)
