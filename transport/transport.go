package transport

import (
	"sync"

	"github.com/hupe1980/soulmesh/core"
)

// Transport delivers outbound messages to the presentation layer.
// Send is fire-and-forget: a returned error means the message could not be
// handed off, not that delivery failed downstream.
type Transport interface {
	Send(msg core.OutgoingMessage) error
}

// Channel is an in-process Transport backed by a buffered channel. When the
// buffer is full the oldest pending message is dropped so that senders never
// block; the presentation side is expected to keep up.
type Channel struct {
	mu     sync.Mutex
	out    chan core.OutgoingMessage
	closed bool
}

// NewChannel creates an in-process transport with the given buffer size.
// A size smaller than 1 defaults to 64.
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 64
	}
	return &Channel{out: make(chan core.OutgoingMessage, size)}
}

// Send implements Transport.
func (c *Channel) Send(msg core.OutgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for {
		select {
		case c.out <- msg:
			return nil
		default:
			// Buffer full: drop the oldest message to make room.
			select {
			case <-c.out:
			default:
			}
		}
	}
}

// Outbound returns the receive side consumed by the presentation layer.
func (c *Channel) Outbound() <-chan core.OutgoingMessage { return c.out }

// Close shuts the transport; subsequent sends fail with ErrClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
	return nil
}

// Func adapts a plain function to the Transport interface.
type Func func(core.OutgoingMessage) error

// Send implements Transport.
func (f Func) Send(msg core.OutgoingMessage) error { return f(msg) }

// Discard is a Transport that drops every message. Useful in tests.
var Discard Transport = Func(func(core.OutgoingMessage) error { return nil })
