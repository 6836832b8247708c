package core

import "github.com/google/uuid"

// NewID generates a unique identifier used for events, tool calls, stream
// correlation and conversation ids.
func NewID() string { return uuid.NewString() }
