package session

import (
	"context"
	"sync"
)

// Store is the injectable persistence seam for session state. Three slots
// are used: the user's identity claims (JSON), the token bundle (JSON) and
// the in-flight PKCE code verifier; each is independently settable and
// clearable. A browser host backs this with web storage, a server host with
// its session layer.
//
// Get returns "" for an absent key. Implementations may be backed by
// asynchronous storage, hence the contexts.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// Store keys.
const (
	KeyUserinfo     = "authkit_userinfo"
	KeyTokens       = "authkit_tokens"
	KeyCodeVerifier = "authkit_code_verifier"
)

// MemoryStore is an in-memory Store, suitable for tests, CLIs and
// single-process hosts.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: map[string]string{},
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value string) error {
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
