package blob

import (
	"context"
	"strings"
	"sync"
)

const memoryScheme = "memory://"

// MemoryStore keeps bodies in process. Used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	uploads int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, data []byte) (Info, error) {
	sum, hash := digest(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[hash]; !ok {
		s.objects[hash] = append([]byte(nil), data...)
		s.uploads++
	}
	return Info{URL: memoryScheme + objectKey("", hash), Digest: sum}, nil
}

func (s *MemoryStore) Get(ctx context.Context, url string) ([]byte, error) {
	key, ok := strings.CutPrefix(url, memoryScheme)
	if !ok {
		return nil, ErrInvalidURL
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[strings.TrimSuffix(key, ".blob")]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Len reports the number of distinct bodies written.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploads
}
