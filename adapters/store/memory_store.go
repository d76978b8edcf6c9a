package store

import (
	"context"
	"sync"

	"github.com/layer-3/walletlink/core"
)

// MemoryStore is an in-memory implementation of ports.Storage and
// ports.ChangeNotifier. It backs a single process host and the tests.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	subs   map[int]func(key string, value []byte)
	nextID int
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		subs: make(map[int]func(string, []byte)),
	}
}

// Get retrieves a copy of the value stored under key
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, core.ErrNotFound
	}

	return append([]byte(nil), value...), nil
}

// Set stores value under key and notifies subscribers
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.data[key] = append([]byte(nil), value...)
	handlers := s.handlers()
	s.mu.Unlock()

	for _, h := range handlers {
		h(key, append([]byte(nil), value...))
	}
	return nil
}

// Delete removes key and notifies subscribers with a nil value
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	handlers := s.handlers()
	s.mu.Unlock()

	if existed {
		for _, h := range handlers {
			h(key, nil)
		}
	}
	return nil
}

// Clear removes all data from the store
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.data = make(map[string][]byte)
	handlers := s.handlers()
	s.mu.Unlock()

	for _, k := range keys {
		for _, h := range handlers {
			h(k, nil)
		}
	}
	return nil
}

// Subscribe registers handler for every write
func (s *MemoryStore) Subscribe(handler func(key string, value []byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// handlers must be called with s.mu held.
func (s *MemoryStore) handlers() []func(string, []byte) {
	out := make([]func(string, []byte), 0, len(s.subs))
	for _, h := range s.subs {
		out = append(out, h)
	}
	return out
}
