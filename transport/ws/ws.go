// Package ws provides a websocket Transport carrying JSON frames of
// core.OutgoingMessage to a connected presentation client and decoding
// inbound frames into core.Event values.
package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/logging"
	"github.com/hupe1980/soulmesh/transport"
)

// Options configure the websocket transport.
type Options struct {
	// ReadBufferSize / WriteBufferSize are passed to the upgrader.
	ReadBufferSize  int
	WriteBufferSize int
	// CheckOrigin overrides the upgrader origin policy. Nil allows all
	// origins, matching local companion deployments.
	CheckOrigin func(r *http.Request) bool
	// Logger for connection lifecycle and send failures.
	Logger logging.Logger
}

// Transport is a websocket backed transport. At most one client is attached
// at a time; a new upgrade replaces the previous connection. Outbound sends
// while no client is attached are dropped with a debug log, preserving the
// fire-and-forget contract.
type Transport struct {
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	events chan core.Event
}

var _ transport.Transport = (*Transport)(nil)

// New creates a websocket transport.
func New(optFns ...func(o *Options)) *Transport {
	opts := Options{ReadBufferSize: 4096, WriteBufferSize: 4096, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Transport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     checkOrigin,
		},
		logger: opts.Logger,
		events: make(chan core.Event, 100),
	}
}

// ServeHTTP upgrades the request and attaches the client. It blocks reading
// inbound frames until the connection drops.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("ws.upgrade.failed", "error", err.Error())
		return
	}

	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()

	t.logger.Info("ws.client.attached", "remote", conn.RemoteAddr().String())
	t.readLoop(conn)
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		_ = conn.Close()
		t.logger.Info("ws.client.detached", "remote", conn.RemoteAddr().String())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev core.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.logger.Warn("ws.event.decode_failed", "error", err.Error())
			continue
		}
		select {
		case t.events <- ev:
		default:
			t.logger.Warn("ws.event.dropped", "kind", string(ev.Kind))
		}
	}
}

// Send implements transport.Transport. Messages sent while no client is
// attached are dropped.
func (t *Transport) Send(msg core.OutgoingMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		t.logger.Debug("ws.send.no_client", "kind", string(msg.Kind))
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: encode outgoing message: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Events returns the inbound event stream decoded from client frames.
func (t *Transport) Events() <-chan core.Event { return t.events }

// Close detaches any connected client.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}
