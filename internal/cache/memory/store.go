// Package memory keeps caches in process memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/anonchat/edgeworker/internal/cache"
)

// Store implements cache.Storage with nested maps.
type Store struct {
	mu     sync.RWMutex
	caches map[string]map[string]*cache.Entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{caches: make(map[string]map[string]*cache.Entry)}
}

func (s *Store) Put(_ context.Context, name string, entry *cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(name)[entry.URL] = entry.Clone()
	return nil
}

func (s *Store) PutAll(_ context.Context, name string, entries []*cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(name)
	for _, e := range entries {
		b[e.URL] = e.Clone()
	}
	return nil
}

func (s *Store) Match(_ context.Context, name, url string) (*cache.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.caches[name][url]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) CacheNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name, b := range s.caches {
		if len(b) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) DeleteCache(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches, name)
	return nil
}

func (s *Store) bucket(name string) map[string]*cache.Entry {
	b, ok := s.caches[name]
	if !ok {
		b = make(map[string]*cache.Entry)
		s.caches[name] = b
	}
	return b
}
