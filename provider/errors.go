package provider

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the "primary" alias resolves to nothing,
// or to an instance that is not connected. It is a typed failure surfaced to
// the caller, never a crash.
var ErrUnavailable = errors.New("provider: unavailable")

// ErrUnknownType is returned when creating an instance of an unregistered
// backend type.
var ErrUnknownType = errors.New("provider: unknown type")

// ErrorCode categorizes provider failures for callers that react differently
// to auth problems, throttling and transient server errors.
type ErrorCode string

const (
	// CodeAuth is an authentication/authorization failure.
	CodeAuth ErrorCode = "auth"
	// CodeRateLimit means the backend throttled the request.
	CodeRateLimit ErrorCode = "rate_limit"
	// CodeTimeout means the request exceeded its deadline.
	CodeTimeout ErrorCode = "timeout"
	// CodeServer is a backend-side failure.
	CodeServer ErrorCode = "server"
)

// Error is a typed provider failure caught at the loop boundary.
type Error struct {
	Code     ErrorCode
	Instance string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error [%s] on %s: %s", e.Code, e.Instance, e.Message)
}

// Unwrap supports errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a typed provider error.
func NewError(code ErrorCode, instance, message string, err error) *Error {
	return &Error{Code: code, Instance: instance, Message: message, Err: err}
}
