package agent

import (
	"context"

	"github.com/richinex/threadline/apierror"
)

// FallbackRequest describes a rate limit incident during a turn.
type FallbackRequest struct {
	CurrentModel   string
	FallbackModel  string
	Err            error
	Classification apierror.Classification
	// Message is the tier-aware explanation for the user.
	Message string
}

// FallbackDecision is the handler's answer. An empty NewModel means the
// configured fallback model.
type FallbackDecision struct {
	Accepted bool
	NewModel string
}

// FallbackHandler decides whether the session switches models after a
// rate limit. It is called at most once per failed turn.
type FallbackHandler func(ctx context.Context, req FallbackRequest) FallbackDecision

// AcceptFallback switches to the configured fallback model without asking.
func AcceptFallback(context.Context, FallbackRequest) FallbackDecision {
	return FallbackDecision{Accepted: true}
}

// DeclineFallback keeps the current model and lets the error surface.
func DeclineFallback(context.Context, FallbackRequest) FallbackDecision {
	return FallbackDecision{}
}
