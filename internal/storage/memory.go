package storage

import (
	"context"
	"sync"

	"unitsel/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	entries     map[model.UnitKey]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	if s.entries == nil {
		s.entries = make(map[model.UnitKey]Entry)
	}
	return nil
}

func (s *MemoryStore) IsCompleted(_ context.Context, key model.UnitKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return false, ErrNotInitialized
	}
	_, ok := s.entries[key]
	return ok, nil
}

func (s *MemoryStore) Write(_ context.Context, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.entries[entry.Key] = entry
	return nil
}

func (s *MemoryStore) ResumeCursor(_ context.Context, layer string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return 0, false, ErrNotInitialized
	}
	cursor, found := 0, false
	for key := range s.entries {
		if key.Layer != layer {
			continue
		}
		if !found || key.Unit > cursor {
			cursor, found = key.Unit, true
		}
	}
	return cursor, found, nil
}

func (s *MemoryStore) Layers(ctx context.Context) ([]string, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return layersOf(entries), nil
}

func (s *MemoryStore) Entries(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sortEntries(out)
	return out, nil
}
