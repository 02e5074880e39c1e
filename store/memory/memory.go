// Package memory is the default, process-local object backend.
package memory

import (
	"context"
	"fmt"
	"sync"

	"git.wyat.me/zuul-gateway/store"
)

type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func New() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, sha string, compressed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[sha]; ok {
		return nil
	}
	s.objects[sha] = append([]byte(nil), compressed...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sha string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[sha]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, sha)
	}
	return data, nil
}

func (s *MemoryStore) Exists(_ context.Context, sha string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[sha]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, sha)
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *MemoryStore) Close() error {
	return nil
}
