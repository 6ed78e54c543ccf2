package transcript

import (
	"context"
	"sync"
)

// MemoryStore keeps the transcript in process memory only.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry
	maxTurns int
}

func NewMemoryStore(maxTurns int) *MemoryStore {
	return &MemoryStore{maxTurns: maxTurns}
}

func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	if s.maxTurns > 0 && len(s.entries) > s.maxTurns {
		drop := len(s.entries) - s.maxTurns
		s.entries = append([]Entry(nil), s.entries[drop:]...)
	}
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...), nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Close() error { return nil }
