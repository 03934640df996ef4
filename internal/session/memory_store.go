package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory for deployments without
// Redis. Sessions do not survive a restart, which matches the original
// single-process behavior.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	revoked  map[string]time.Time
}

type memoryEntry struct {
	data      TokenData
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		revoked:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash string, data TokenData, expiresAt time.Time) error {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tokenHash] = memoryEntry{data: data, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (TokenData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[tokenHash]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.sessions, tokenHash)
		return TokenData{}, ErrTokenNotFound
	}
	return entry.data, nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, jti string, until time.Time) error {
	if time.Now().After(until) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = until
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.revoked[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(until) {
		delete(s.revoked, jti)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
