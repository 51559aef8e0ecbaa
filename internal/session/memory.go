package session

import (
	"context"
	"sync"

	"droid/internal/agent/ports"
)

// InMemoryStore is the default Store: a synchronized map of ordered turns.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]ports.Message
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]ports.Message)}
}

func (s *InMemoryStore) Append(_ context.Context, sessionKey string, msgs ...ports.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey] = append(s.sessions[sessionKey], msgs...)
	return nil
}

func (s *InMemoryStore) History(_ context.Context, sessionKey string) ([]ports.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.sessions[sessionKey]
	out := make([]ports.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *InMemoryStore) Clear(_ context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey)
	return nil
}
