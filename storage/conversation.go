// Package storage provides the checkpoint read/write contract for conversations.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Allows swapping between memory and SQLite without API changes
// - Each storage implementation encapsulates its own encoding of message parts

package storage

import (
	"context"

	"github.com/richinex/threadline/model"
)

// ConversationStorage defines the interface for storing conversation history.
// Keys are checkpoint tags chosen by the caller.
type ConversationStorage interface {
	// Save replaces the history stored under tag.
	Save(ctx context.Context, tag string, history []model.Message) error

	// Load loads the history stored under tag.
	// Returns empty slice (not nil) if the tag doesn't exist.
	// Returns error only for storage failures (I/O errors, etc.), not missing tags.
	Load(ctx context.Context, tag string) ([]model.Message, error)

	// Delete deletes the history stored under tag.
	Delete(ctx context.Context, tag string) error

	// ListSessions lists all stored tags, most recently updated first.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a tag exists.
	Exists(ctx context.Context, tag string) (bool, error)
}
