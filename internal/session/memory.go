package session

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (s *MemoryStore) Get(ctx context.Context, phone string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, exists := s.sessions[phone]; exists {
		return sess, nil
	}
	return defaultSession(), nil
}

func (s *MemoryStore) Save(ctx context.Context, phone string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[phone] = sess
	return nil
}
