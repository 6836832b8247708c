package artifact

import (
	"sort"
	"sync"
)

// InMemoryStore keeps artifacts in a nested map guarded by an RWMutex.
// Data slices are copied on save and retrieval so callers cannot mutate
// internal buffers. It enforces no quotas or eviction; use the SQLite
// store when artifacts must survive a restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Artifact // sessionID -> artifactID
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]map[string]Artifact)}
}

func copyData(data []byte) []byte {
	if data == nil {
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp
}

// Save stores (or overwrites) the artifact under the session.
func (s *InMemoryStore) Save(sessionID string, a Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		s.sessions[sessionID] = make(map[string]Artifact)
	}
	a.Data = copyData(a.Data)
	s.sessions[sessionID][a.ID] = a
	return nil
}

// Get returns a copy of the stored artifact or ErrNotFound.
func (s *InMemoryStore) Get(sessionID, artifactID string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.sessions[sessionID]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	a, ok := m[artifactID]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	a.Data = copyData(a.Data)
	return a, nil
}

// List returns the session's artifacts, newest first.
func (s *InMemoryStore) List(sessionID string) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.sessions[sessionID]
	if !ok {
		return []Artifact{}, nil
	}
	artifacts := make([]Artifact, 0, len(m))
	for _, a := range m {
		a.Data = copyData(a.Data)
		artifacts = append(artifacts, a)
	}
	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].Created.Equal(artifacts[j].Created) {
			return artifacts[i].ID > artifacts[j].ID
		}
		return artifacts[i].Created.After(artifacts[j].Created)
	})
	return artifacts, nil
}

// Delete removes the artifact if present or returns ErrNotFound.
func (s *InMemoryStore) Delete(sessionID, artifactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[artifactID]; !ok {
		return ErrNotFound
	}
	delete(m, artifactID)
	return nil
}
