// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Conversion between model.Message history and the wire format
// - Provider-specific error shapes (normalized into apierror types)
// - Streaming protocol details and tool-call reassembly

package llm

import (
	"context"

	"github.com/richinex/threadline/model"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// the same four operations to the engine.
type Provider interface {
	// Name returns the provider name (the backend id used in telemetry).
	Name() string

	// Model returns the default model used when a request does not set one.
	Model() string

	// Generate sends a request and waits for the complete reply.
	Generate(ctx context.Context, req GenerationRequest) (Response, error)

	// GenerateStream starts a streamed request. The returned channel yields
	// events in backend order and is closed after EventDone or EventError.
	// Cancelling ctx aborts the network call and closes the channel.
	GenerateStream(ctx context.Context, req GenerationRequest) (<-chan Event, error)

	// CountTokens returns the prompt token count of history for modelID.
	// Errors wrap apierror.ErrTokenCountUnavailable.
	CountTokens(ctx context.Context, history []model.Message, modelID string) (int, error)

	// Embed returns one embedding vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// modelFor returns the request model, falling back to the provider default.
func modelFor(req GenerationRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}

// sendEvent delivers ev unless ctx is done.
func sendEvent(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// streamBuffer is the channel capacity of adapter event streams.
const streamBuffer = 64
