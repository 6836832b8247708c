package transport

import "errors"

// ErrClosed is returned by Send after the transport has been closed.
var ErrClosed = errors.New("transport: closed")
