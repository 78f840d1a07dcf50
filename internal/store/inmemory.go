package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps completed sessions in-process for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions []CompletedSession
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveCompletedSession(_ context.Context, rec CompletedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now().UTC()
	}
	s.sessions = append(s.sessions, rec)
	return nil
}

func (s *InMemoryStore) RecentSessions(_ context.Context, limit int) ([]CompletedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sessions) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(s.sessions) {
		limit = len(s.sessions)
	}
	out := make([]CompletedSession, 0, limit)
	for i := len(s.sessions) - 1; i >= len(s.sessions)-limit; i-- {
		out = append(out, s.sessions[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
