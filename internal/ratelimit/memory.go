package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for development and tests. It gives
// no cross-instance quota; production deployments use RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*memBucket
}

type memBucket struct {
	tokens  int
	resetAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*memBucket)}
}

func (s *MemoryStore) Take(ctx context.Context, key string, limit int, window time.Duration) (int, time.Time, bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &memBucket{tokens: limit, resetAt: now.Add(window)}
		s.buckets[key] = b
	}

	if b.tokens <= 0 {
		return 0, b.resetAt, false, nil
	}

	b.tokens--
	return b.tokens, b.resetAt, true, nil
}
