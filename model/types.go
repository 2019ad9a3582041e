// Package model provides the conversation content types shared across packages.
//
// A conversation is an ordered list of Messages. Each Message carries an
// ordered list of Parts, and each Part holds exactly one kind of content:
// text, a function call, a function response, or inline binary data.
package model

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries the result of executing a FunctionCall.
// ID matches the originating call.
type FunctionResponse struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name"`
	Result map[string]any `json:"result,omitempty"`
}

// Blob is inline binary content such as an image.
type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// PartKind tags which field of a Part is populated.
type PartKind int

const (
	PartEmpty PartKind = iota
	PartText
	PartFunctionCall
	PartFunctionResponse
	PartInlineData
)

// Part is a tagged union. Exactly one field should be set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
	InlineData       *Blob             `json:"inline_data,omitempty"`
}

// Kind reports which variant the part holds.
func (p Part) Kind() PartKind {
	switch {
	case p.FunctionCall != nil:
		return PartFunctionCall
	case p.FunctionResponse != nil:
		return PartFunctionResponse
	case p.InlineData != nil:
		return PartInlineData
	case p.Text != "":
		return PartText
	default:
		return PartEmpty
	}
}

// TextPart creates a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// FunctionCallPart creates a function call part.
func FunctionCallPart(call FunctionCall) Part {
	return Part{FunctionCall: &call}
}

// FunctionResponsePart creates a function response part.
func FunctionResponsePart(resp FunctionResponse) Part {
	return Part{FunctionResponse: &resp}
}

// InlineDataPart creates an inline binary part.
func InlineDataPart(mimeType string, data []byte) Part {
	return Part{InlineData: &Blob{MIMEType: mimeType, Data: data}}
}

// Message is one entry in the conversation history.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// UserMessage creates a user message with a single text part.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// ModelMessage creates a model message from parts.
func ModelMessage(parts ...Part) Message {
	return Message{Role: RoleModel, Parts: parts}
}

// ToolMessage creates a tool message carrying function responses.
func ToolMessage(responses ...FunctionResponse) Message {
	parts := make([]Part, len(responses))
	for i, r := range responses {
		parts[i] = FunctionResponsePart(r)
	}
	return Message{Role: RoleTool, Parts: parts}
}

// Text concatenates all text parts of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// FunctionCalls returns the function calls in the message, in order.
func (m Message) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range m.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function responses in the message, in order.
func (m Message) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range m.Parts {
		if p.FunctionResponse != nil {
			responses = append(responses, *p.FunctionResponse)
		}
	}
	return responses
}

// IsEmpty reports whether the message carries no content.
func (m Message) IsEmpty() bool {
	for _, p := range m.Parts {
		if p.Kind() != PartEmpty {
			return false
		}
	}
	return true
}

// SerializedSize returns the length of the message's JSON encoding.
// Used as a size proxy when token counts are not needed.
func (m Message) SerializedSize() int {
	data, err := json.Marshal(m)
	if err != nil {
		return len(m.Text())
	}
	return len(data)
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := Message{Role: m.Role, Parts: make([]Part, len(m.Parts))}
	for i, p := range m.Parts {
		out.Parts[i] = p.clone()
	}
	return out
}

func (p Part) clone() Part {
	out := Part{Text: p.Text}
	if p.FunctionCall != nil {
		out.FunctionCall = &FunctionCall{
			ID:   p.FunctionCall.ID,
			Name: p.FunctionCall.Name,
			Args: cloneMap(p.FunctionCall.Args),
		}
	}
	if p.FunctionResponse != nil {
		out.FunctionResponse = &FunctionResponse{
			ID:     p.FunctionResponse.ID,
			Name:   p.FunctionResponse.Name,
			Result: cloneMap(p.FunctionResponse.Result),
		}
	}
	if p.InlineData != nil {
		data := make([]byte, len(p.InlineData.Data))
		copy(data, p.InlineData.Data)
		out.InlineData = &Blob{MIMEType: p.InlineData.MIMEType, Data: data}
	}
	return out
}

// cloneMap copies nested JSON-like values. Unknown types are shared.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// CloneHistory deep-copies a list of messages. A nil input yields an empty slice.
func CloneHistory(history []Message) []Message {
	out := make([]Message, len(history))
	for i, m := range history {
		out[i] = m.Clone()
	}
	return out
}
