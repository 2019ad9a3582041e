// Package agent provides the conversation engine.
//
// Contains the events a SendMessage run emits to its caller.
package agent

import (
	"fmt"

	"github.com/richinex/threadline/llm"
	"github.com/richinex/threadline/model"
)

// EventType tags an engine event.
type EventType int

const (
	// EventContent carries a streamed text delta.
	EventContent EventType = iota
	// EventToolCallRequest asks the caller to execute a function call and
	// answer it with SubmitToolResult.
	EventToolCallRequest
	// EventUsage carries token usage reported by the backend.
	EventUsage
	// EventError reports a failure the engine could not recover from.
	EventError
	// EventChatCompressed reports that history was summarized.
	EventChatCompressed
	// EventModelFallback reports that the session switched models and the
	// turn is retried. Text already delivered for the turn is void: the
	// retry streams the reply from the start.
	EventModelFallback
	// EventMaxSessionTurns reports that the session turn cap refused a turn.
	EventMaxSessionTurns
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventContent:
		return "content"
	case EventToolCallRequest:
		return "tool_call_request"
	case EventUsage:
		return "usage"
	case EventError:
		return "error"
	case EventChatCompressed:
		return "chat_compressed"
	case EventModelFallback:
		return "model_fallback"
	case EventMaxSessionTurns:
		return "max_session_turns"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// CompressionInfo describes a completed compression.
type CompressionInfo struct {
	OriginalTokenCount int
	NewTokenCount      int
}

// ModelSwitch describes a model fallback.
type ModelSwitch struct {
	From string
	To   string
	// Discarded is the text the failed attempt streamed before the error.
	Discarded string
}

// Event is one element of a SendMessage stream.
type Event struct {
	Type        EventType
	Text        string
	ToolCall    *model.FunctionCall
	Usage       *llm.TokenUsage
	Err         error
	Compression *CompressionInfo
	Fallback    *ModelSwitch
	// Message is user-facing copy for errors and fallbacks.
	Message string
}
