package tokenstore

import "sync"

// MemoryStore keeps the session in process memory. The session is lost on
// restart.
type MemoryStore struct {
	mu        sync.RWMutex
	tokens    *AuthTokens
	firstSeen bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (*AuthTokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return nil, nil
	}
	t := *s.tokens
	return &t, nil
}

func (s *MemoryStore) Put(tokens AuthTokens) error {
	if err := validate(tokens); err != nil {
		return err
	}
	s.mu.Lock()
	s.tokens = &tokens
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.tokens = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) IsFirstLaunch() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.firstSeen, nil
}

func (s *MemoryStore) MarkFirstLaunchSeen() error {
	s.mu.Lock()
	s.firstSeen = true
	s.mu.Unlock()
	return nil
}
