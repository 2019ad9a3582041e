// Package storage provides in-memory conversation storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/richinex/threadline/model"
)

type memoryEntry struct {
	history []model.Message
	seq     uint64
}

// InMemoryStorage implements ConversationStorage using an in-memory map.
// Data is lost when process terminates.
type InMemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	seq      uint64
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		sessions: make(map[string]memoryEntry),
	}
}

// Save saves conversation history under tag.
func (s *InMemoryStorage) Save(ctx context.Context, tag string, history []model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Deep copy so later engine mutations don't leak into the checkpoint
	s.seq++
	s.sessions[tag] = memoryEntry{
		history: model.CloneHistory(history),
		seq:     s.seq,
	}
	return nil
}

// Load loads conversation history for tag.
// Returns empty slice if the tag doesn't exist.
func (s *InMemoryStorage) Load(ctx context.Context, tag string) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[tag]
	if !ok {
		return []model.Message{}, nil
	}
	return model.CloneHistory(entry.history), nil
}

// Delete deletes conversation history for tag.
func (s *InMemoryStorage) Delete(ctx context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, tag)
	return nil
}

// ListSessions lists all tags, most recently saved first.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tags := make([]string, 0, len(s.sessions))
	for tag := range s.sessions {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		return s.sessions[tags[i]].seq > s.sessions[tags[j]].seq
	})
	return tags, nil
}

// Exists checks if a tag exists.
func (s *InMemoryStorage) Exists(ctx context.Context, tag string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[tag]
	return ok, nil
}

// Verify InMemoryStorage implements ConversationStorage
var _ ConversationStorage = (*InMemoryStorage)(nil)
