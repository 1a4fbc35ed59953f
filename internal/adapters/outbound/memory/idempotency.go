package memory

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that IdempotencyStore implements outbound.IdempotencyStore
var _ outbound.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore holds reserved keys until they expire.
type IdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewIdempotencyStore creates an empty store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.keys[key] = now.Add(ttl)
	return true, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func (s *IdempotencyStore) Close() error { return nil }
