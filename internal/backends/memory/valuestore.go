package memory

import (
	"context"
	"posgate/internal/types"
	"strings"
	"sync"
	"time"
)

// ValueStore is an in-process stand-in for the shared second-level cache.
type ValueStore struct {
	mu    sync.Mutex
	items map[string]valueItem
	now   func() time.Time
}

type valueItem struct {
	val []byte
	exp time.Time
}

func NewValueStore() *ValueStore {
	return &ValueStore{items: make(map[string]valueItem), now: time.Now}
}

func (s *ValueStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, types.ErrNotFound
	}
	if !s.now().Before(it.exp) {
		delete(s.items, key)
		return nil, types.ErrNotFound
	}
	return it.val, nil
}

// Set stores value for ttl. A non-positive ttl stores nothing.
func (s *ValueStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	s.items[key] = valueItem{val: value, exp: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *ValueStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *ValueStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}
