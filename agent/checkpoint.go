package agent

import (
	"context"
	"errors"
	"fmt"
)

// Checkpoint errors.
var (
	ErrNoStorage          = errors.New("no checkpoint storage configured")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// SaveCheckpoint stores the current history under tag.
func (e *Engine) SaveCheckpoint(ctx context.Context, tag string) error {
	if e.store == nil {
		return ErrNoStorage
	}
	if err := e.store.Save(ctx, tag, e.GetHistory()); err != nil {
		return fmt.Errorf("save checkpoint %q: %w", tag, err)
	}
	return nil
}

// ResumeCheckpoint resets the chat seeded with the history stored under tag.
func (e *Engine) ResumeCheckpoint(ctx context.Context, tag string) error {
	if e.store == nil {
		return ErrNoStorage
	}
	exists, err := e.store.Exists(ctx, tag)
	if err != nil {
		return fmt.Errorf("resume checkpoint %q: %w", tag, err)
	}
	if !exists {
		return fmt.Errorf("%w: %q", ErrCheckpointNotFound, tag)
	}
	history, err := e.store.Load(ctx, tag)
	if err != nil {
		return fmt.Errorf("resume checkpoint %q: %w", tag, err)
	}
	return e.ResetChat(history...)
}

// ListCheckpoints returns the stored tags, most recent first.
func (e *Engine) ListCheckpoints(ctx context.Context) ([]string, error) {
	if e.store == nil {
		return nil, ErrNoStorage
	}
	return e.store.ListSessions(ctx)
}

// DeleteCheckpoint removes the history stored under tag.
func (e *Engine) DeleteCheckpoint(ctx context.Context, tag string) error {
	if e.store == nil {
		return ErrNoStorage
	}
	return e.store.Delete(ctx, tag)
}
