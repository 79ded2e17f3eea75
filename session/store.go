package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Load when nothing is stored.
var ErrNotFound = errors.New("session not found")

// Store persists Tokens for one user scope.
type Store interface {
	Save(ctx context.Context, t *Tokens) error
	// Load returns ErrNotFound when empty.
	Load(ctx context.Context) (*Tokens, error)
	// Clear is idempotent.
	Clear(ctx context.Context) error
}

// MemoryStore keeps Tokens in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, t *Tokens) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(context.Context) (*Tokens, error) {
	s.mu.Lock()
	data := s.data
	s.mu.Unlock()
	if data == nil {
		return nil, ErrNotFound
	}
	return Decode(data)
}

// Clear implements Store.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}
