package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-process CounterStore with the same window semantics
// as the Redis store. Single-process only; used in tests and the
// use_in_memory configuration.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

// SetClock overrides the store's time source. Test helper.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) get(key string) *memoryCounter {
	c, exists := s.counters[key]
	if !exists || !c.expiresAt.After(s.now()) {
		return nil
	}
	return c
}

func (s *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(key)
	if c == nil {
		c = &memoryCounter{expiresAt: s.now().Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

func (s *MemoryStore) Count(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(key)
	if c == nil {
		return 0, nil
	}
	return c.count, nil
}

func (s *MemoryStore) TimeToLive(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(key)
	if c == nil {
		return 0, nil
	}
	return c.expiresAt.Sub(s.now()), nil
}
