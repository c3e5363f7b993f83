// Package session keeps small values that must survive a reconnect of the
// caller within one run of the application but never outlive it: the access
// guard flag and the cached wonky cookie.
package session

import (
	"context"
	"sync"
)

// Keys used by the bridge.
const (
	BlockAccessKey = "SUP_BLOCK_CLICKUP_ACCESS"
	WonkyCookieKey = "SUP_CLICKUP_WONKY_COOKIE"
)

// Store is a session-scoped key/value cell store. Each operation touches a
// single key; no multi-key atomicity is offered.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps values for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
