// Package llm provides shared data models for LLM providers.
package llm

import (
	"encoding/json"

	"github.com/richinex/threadline/model"
)

// ChatMessage is the flattened chat-protocol form of a conversation entry.
// Chat-style adapters convert model.Message history into this shape,
// repair and merge it, and then map it onto their SDK types.
type ChatMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`   // For assistant messages with tool calls
	ToolCallID  string       `json:"tool_call_id,omitempty"` // For tool result messages
	ToolName    string       `json:"tool_name,omitempty"`    // For tool result messages
	Attachments []model.Blob `json:"-"`                      // Inline binary content of user messages
}

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition defines a tool that the LLM can call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Chat roles used by ChatMessage.
const (
	chatRoleSystem    = "system"
	chatRoleUser      = "user"
	chatRoleAssistant = "assistant"
	chatRoleTool      = "tool"
)

// SamplingParams are the generation knobs forwarded to the backend.
// Nil pointers leave the backend default in place.
type SamplingParams struct {
	Temperature *float32
	TopP        *float32
	TopK        *int32
	MaxTokens   int32
}

// GenerationRequest is one model invocation.
// Cancellation travels on the context passed alongside it.
type GenerationRequest struct {
	// Model overrides the provider's default model when set.
	Model             string
	History           []model.Message
	NewMessage        model.Message
	SystemInstruction string
	Tools             []ToolDefinition
	Sampling          SamplingParams
}

// Contents returns the history followed by the new message, if any.
func (r GenerationRequest) Contents() []model.Message {
	contents := make([]model.Message, 0, len(r.History)+1)
	contents = append(contents, r.History...)
	if len(r.NewMessage.Parts) > 0 {
		contents = append(contents, r.NewMessage)
	}
	return contents
}

// Response is a complete, non-streamed model reply.
type Response struct {
	Message      model.Message
	Usage        *TokenUsage
	FinishReason string
}

// Text returns the concatenated text of the reply.
func (r Response) Text() string {
	return r.Message.Text()
}

// FunctionCalls returns the tool calls requested by the reply.
func (r Response) FunctionCalls() []model.FunctionCall {
	return r.Message.FunctionCalls()
}

// EventType tags a streamed generation event.
type EventType int

const (
	EventTextDelta EventType = iota
	EventFunctionCall
	EventUsage
	EventError
	EventDone
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventTextDelta:
		return "text_delta"
	case EventFunctionCall:
		return "function_call"
	case EventUsage:
		return "usage"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one element of a generation stream. The stream is finite,
// not restartable, and closed after EventDone or EventError.
type Event struct {
	Type         EventType
	Text         string
	FunctionCall *model.FunctionCall
	Usage        *TokenUsage
	Err          error
	FinishReason string
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
	// Estimated is set when the counts were derived rather than reported.
	Estimated bool
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Estimated = u.Estimated || other.Estimated
}

// Merge returns s with every field that override sets replaced.
func (s SamplingParams) Merge(override SamplingParams) SamplingParams {
	out := s
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.TopP != nil {
		out.TopP = override.TopP
	}
	if override.TopK != nil {
		out.TopK = override.TopK
	}
	if override.MaxTokens > 0 {
		out.MaxTokens = override.MaxTokens
	}
	return out
}
