// Package memory keeps archived documents in-memory for development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/price-harvester/internal/archive"
)

// Store stores documents in-memory and returns pseudo URIs.
type Store struct {
	mu       sync.RWMutex
	data     map[string][]byte
	metadata map[string]map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		data:     make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

// Put keeps a copy of body under key.
func (s *Store) Put(_ context.Context, key, _ string, body []byte, metadata map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), body...)
	s.metadata[key] = metadata
	return fmt.Sprintf("memory://%s", key), nil
}

// List returns the keys under prefix in lexical order.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns a copy of the document under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, archive.ErrNotFound)
	}
	return append([]byte(nil), body...), nil
}

// Metadata returns the metadata stored with key.
func (s *Store) Metadata(key string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata[key]
}
