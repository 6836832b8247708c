package memory

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/soulmesh/core"
)

// ErrNotFound is returned when no fact exists for the given id.
var ErrNotFound = errors.New("fact not found")

// Fact is one remembered statement about the user or the world.
type Fact struct {
	ID      string
	Content string
	Tags    []string
	Created time.Time
}

// Store persists long-term facts per session.
type Store interface {
	// Remember stores a fact and returns its id.
	Remember(sessionID, content string, tags []string) (string, error)
	// Recall returns up to limit facts whose content or tags match the
	// query, newest first. An empty query matches everything.
	Recall(sessionID, query string, limit int) ([]Fact, error)
	// Forget removes a fact or returns ErrNotFound.
	Forget(sessionID, factID string) error
}

// InMemoryStore is a process-local Store guarded by an RWMutex. Recall is
// a case-insensitive substring scan.
type InMemoryStore struct {
	mu    sync.RWMutex
	facts map[string][]Fact // sessionID -> facts in insertion order
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty fact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{facts: make(map[string][]Fact)}
}

// Remember stores a fact and returns its id.
func (m *InMemoryStore) Remember(sessionID, content string, tags []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fact := Fact{
		ID:      core.NewID(),
		Content: content,
		Tags:    append([]string(nil), tags...),
		Created: time.Now().UTC(),
	}
	m.facts[sessionID] = append(m.facts[sessionID], fact)
	return fact.ID, nil
}

func matches(f Fact, query string) bool {
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(f.Content), query) {
		return true
	}
	for _, tag := range f.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// Recall returns matching facts, newest first.
func (m *InMemoryStore) Recall(sessionID, query string, limit int) ([]Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query = strings.ToLower(query)
	results := []Fact{}
	for _, f := range m.facts[sessionID] {
		if matches(f, query) {
			results = append(results, f)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Created.After(results[j].Created)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Forget removes a fact by id.
func (m *InMemoryStore) Forget(sessionID, factID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	facts := m.facts[sessionID]
	for i, f := range facts {
		if f.ID == factID {
			m.facts[sessionID] = append(facts[:i], facts[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
