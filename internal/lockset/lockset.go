// Package lockset provides a named set of non-blocking mutual-exclusion locks.
package lockset

import "sync"

type Set struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func New() *Set {
	return &Set{held: make(map[string]struct{})}
}

// TryLock acquires key and reports true, or reports false if key is already held.
func (s *Set) TryLock(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held[key]; ok {
		return false
	}
	s.held[key] = struct{}{}
	return true
}

func (s *Set) Unlock(key string) {
	s.mu.Lock()
	delete(s.held, key)
	s.mu.Unlock()
}

func (s *Set) Held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.held[key]
	return ok
}
