package session

import (
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/soulmesh/core"
)

// InMemoryStore is a volatile Store implementation keeping conversations in
// a process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo setups. Returned slices are copies so callers
// cannot mutate internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	messages      map[string][]core.ChatMessage
	conversations map[string]*Conversation
	current       string
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs a store holding only the default conversation.
func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{
		messages:      make(map[string][]core.ChatMessage),
		conversations: make(map[string]*Conversation),
		current:       DefaultSessionID,
	}
	s.createLocked(DefaultSessionID)
	return s
}

// createLocked registers a conversation; caller must hold the write lock.
func (s *InMemoryStore) createLocked(id string) *Conversation {
	now := time.Now().UTC()
	c := &Conversation{ID: id, Created: now, Updated: now}
	s.conversations[id] = c
	return c
}

// AddMessage implements Store. Unknown conversations are created lazily so
// that plugin-originated sessions do not need an explicit create step.
func (s *InMemoryStore) AddMessage(sessionID string, msg core.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[sessionID]
	if !ok {
		c = s.createLocked(sessionID)
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	c.Updated = time.Now().UTC()
	return nil
}

// Messages implements Store.
func (s *InMemoryStore) Messages(sessionID string, limit int) ([]core.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[sessionID]; !ok {
		return nil, ErrNotFound
	}
	msgs := s.messages[sessionID]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]core.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// NewConversation implements Store.
func (s *InMemoryStore) NewConversation() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := core.NewID()
	s.createLocked(id)
	return id, nil
}

// SwitchConversation implements Store.
func (s *InMemoryStore) SwitchConversation(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[sessionID]; !ok {
		return ErrNotFound
	}
	s.current = sessionID
	return nil
}

// Current implements Store.
func (s *InMemoryStore) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Conversations implements Store.
func (s *InMemoryStore) Conversations() ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error { return nil }
