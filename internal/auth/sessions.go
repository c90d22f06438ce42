package auth

import (
	"sync"
	"time"
)

// sessionStore tracks live session IDs and their expiry. It is shared across
// concurrent requests: reads take the read lock, login/logout/sweep take the
// write lock.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]time.Time)}
}

func (s *sessionStore) add(id string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = expiresAt
}

func (s *sessionStore) alive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiry, ok := s.sessions[id]
	return ok && time.Now().Before(expiry)
}

func (s *sessionStore) revoke(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *sessionStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, expiry := range s.sessions {
		if now.After(expiry) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *sessionStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
