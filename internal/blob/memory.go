package blob

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps blobs in process memory. Used in tests and single-node
// deployments; the URL scheme is "mem://folder/name".
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(_ context.Context, folder, name string, data []byte) (Info, error) {
	url := fmt.Sprintf("mem://%s/%s", folder, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.objects[url]; ok {
		// Re-writes happen on stage retries. Identical content is a no-op;
		// differing content would silently corrupt an immutable object.
		if Digest(existing) != Digest(data) {
			return Info{}, fmt.Errorf("blob: %s already exists with different content", url)
		}
		return Info{URL: url, Digest: Digest(data), Size: int64(len(data))}, nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[url] = buf

	return Info{URL: url, Digest: Digest(data), Size: int64(len(data))}, nil
}

func (s *MemoryStore) Download(_ context.Context, url string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (s *MemoryStore) Delete(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[url]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	delete(s.objects, url)
	return nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
