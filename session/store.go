package session

import (
	"errors"
	"time"

	"github.com/hupe1980/soulmesh/core"
)

// DefaultSessionID is the builtin conversation that always exists.
const DefaultSessionID = "default"

// ErrNotFound is returned when a conversation id is unknown.
var ErrNotFound = errors.New("session: conversation not found")

// Conversation is the metadata kept per conversation.
type Conversation struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Store is the persistence contract consumed by handlers. Messages within a
// conversation are append-only and retrieved in insertion order.
type Store interface {
	// AddMessage appends a message to the conversation's ordered log.
	AddMessage(sessionID string, msg core.ChatMessage) error

	// Messages returns the conversation's messages in insertion order.
	// A limit greater than zero returns only the most recent messages.
	Messages(sessionID string, limit int) ([]core.ChatMessage, error)

	// NewConversation creates a conversation and returns its id.
	NewConversation() (string, error)

	// SwitchConversation makes the given conversation current.
	SwitchConversation(sessionID string) error

	// Current returns the id of the current conversation.
	Current() string

	// Conversations lists conversation metadata ordered by creation time.
	Conversations() ([]Conversation, error)

	// Close flushes pending writes and releases resources.
	Close() error
}
