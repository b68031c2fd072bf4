// Package memory keeps blobs and load runs in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// BlobStore stores payloads in-memory and returns pseudo URIs. A bounded
// store evicts the oldest object once it holds maxObjects.
type BlobStore struct {
	mu           sync.RWMutex
	data         map[string][]byte
	contentTypes map[string]string
	order        []string
	maxObjects   int
	evicted      int
}

// NewBlobStore creates an unbounded in-memory blob store.
func NewBlobStore() *BlobStore {
	return NewBoundedBlobStore(0)
}

// NewBoundedBlobStore keeps at most maxObjects payloads. Zero or less means
// no limit.
func NewBoundedBlobStore(maxObjects int) *BlobStore {
	return &BlobStore{
		data:         make(map[string][]byte),
		contentTypes: make(map[string]string),
		maxObjects:   maxObjects,
	}
}

// PutObject persists the content and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[path]; !exists {
		s.order = append(s.order, path)
	}
	s.data[path] = append([]byte(nil), byteData...)
	s.contentTypes[path] = contentType
	for s.maxObjects > 0 && len(s.order) > s.maxObjects {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.data, oldest)
		delete(s.contentTypes, oldest)
		s.evicted++
	}
	return "memory://" + path, nil
}

// Evicted reports how many objects were dropped to stay within the bound.
func (s *BlobStore) Evicted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// Object returns a copy of the stored bytes and their content type.
func (s *BlobStore) Object(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), b...), s.contentTypes[path], true
}

// Paths lists stored object paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
