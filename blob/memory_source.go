package blob

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemorySource is a Source backed by an in-memory map, for tests and for
// building an index that never needs to outlive the process.
type MemorySource struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemorySource returns an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{data: make(map[string][]byte)}
}

// Get implements Source.
func (s *MemorySource) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "blob %q", name)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Put implements Source.
func (s *MemorySource) Put(_ context.Context, name string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = cp
	return nil
}
