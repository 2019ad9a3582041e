// Chat-protocol history preparation shared by the chat-style adapters.
//
// Information Hiding:
// - Flattening of multi-part messages into chat messages
// - Orphaned tool call / tool result removal
// - Merging of split assistant turns

package llm

import (
	"encoding/json"
	"strings"

	"github.com/richinex/threadline/model"
)

// toChatMessages flattens a generation request into chat messages.
// Function responses become tool messages, model messages with function
// calls become assistant messages carrying tool call descriptors.
func toChatMessages(req GenerationRequest) []ChatMessage {
	var out []ChatMessage
	if req.SystemInstruction != "" {
		out = append(out, ChatMessage{Role: chatRoleSystem, Content: req.SystemInstruction})
	}

	for _, msg := range req.Contents() {
		switch msg.Role {
		case model.RoleModel:
			out = append(out, assistantFromMessage(msg))
		default:
			out = append(out, userAndToolFromMessage(msg)...)
		}
	}
	return out
}

func assistantFromMessage(msg model.Message) ChatMessage {
	cm := ChatMessage{Role: chatRoleAssistant}
	var text strings.Builder
	for _, p := range msg.Parts {
		switch {
		case p.FunctionCall != nil:
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil || p.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			cm.ToolCalls = append(cm.ToolCalls, ToolCall{
				ID:        p.FunctionCall.ID,
				Name:      p.FunctionCall.Name,
				Arguments: args,
			})
		default:
			text.WriteString(p.Text)
		}
	}
	cm.Content = text.String()
	return cm
}

// userAndToolFromMessage splits a user or tool message into tool result
// messages (one per function response) followed by a user message for
// any remaining text or inline data.
func userAndToolFromMessage(msg model.Message) []ChatMessage {
	var out []ChatMessage
	user := ChatMessage{Role: chatRoleUser}
	var text strings.Builder

	for _, p := range msg.Parts {
		switch {
		case p.FunctionResponse != nil:
			out = append(out, ChatMessage{
				Role:       chatRoleTool,
				Content:    encodeResult(p.FunctionResponse.Result),
				ToolCallID: p.FunctionResponse.ID,
				ToolName:   p.FunctionResponse.Name,
			})
		case p.InlineData != nil:
			user.Attachments = append(user.Attachments, *p.InlineData)
		default:
			text.WriteString(p.Text)
		}
	}

	user.Content = text.String()
	if user.Content != "" || len(user.Attachments) > 0 {
		out = append(out, user)
	}
	return out
}

func encodeResult(result map[string]any) string {
	if result == nil {
		return "{}"
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// repairOrphans drops assistant tool call descriptors with no later tool
// result, and tool results with no earlier tool call. Dropping one side
// can orphan the other, so passes repeat until nothing changes.
func repairOrphans(messages []ChatMessage) []ChatMessage {
	for {
		repaired, changed := repairPass(messages)
		messages = repaired
		if !changed {
			return messages
		}
	}
}

func repairPass(messages []ChatMessage) ([]ChatMessage, bool) {
	changed := false

	// Tool results answered later in the list, keyed by call id.
	answeredAfter := make([]map[string]bool, len(messages)+1)
	answeredAfter[len(messages)] = map[string]bool{}
	for i := len(messages) - 1; i >= 0; i-- {
		next := answeredAfter[i+1]
		if messages[i].Role == chatRoleTool {
			cp := make(map[string]bool, len(next)+1)
			for k := range next {
				cp[k] = true
			}
			cp[messages[i].ToolCallID] = true
			next = cp
		}
		answeredAfter[i] = next
	}

	out := make([]ChatMessage, 0, len(messages))
	issued := make(map[string]bool)
	for i, msg := range messages {
		switch msg.Role {
		case chatRoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, msg)
				continue
			}
			kept := msg.ToolCalls[:0:0]
			for _, tc := range msg.ToolCalls {
				if answeredAfter[i+1][tc.ID] {
					kept = append(kept, tc)
					issued[tc.ID] = true
				} else {
					changed = true
				}
			}
			msg.ToolCalls = kept
			if len(kept) == 0 && msg.Content == "" {
				changed = true
				continue
			}
			out = append(out, msg)
		case chatRoleTool:
			if !issued[msg.ToolCallID] {
				changed = true
				continue
			}
			out = append(out, msg)
		default:
			out = append(out, msg)
		}
	}
	return out, changed
}

// mergeAdjacentAssistant folds consecutive assistant messages into one,
// concatenating their text and tool call lists.
func mergeAdjacentAssistant(messages []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if n := len(out); n > 0 && msg.Role == chatRoleAssistant && out[n-1].Role == chatRoleAssistant {
			prev := &out[n-1]
			prev.Content += msg.Content
			prev.ToolCalls = append(prev.ToolCalls, msg.ToolCalls...)
			continue
		}
		if msg.Role == chatRoleAssistant && len(msg.ToolCalls) > 0 {
			msg.ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
		}
		out = append(out, msg)
	}
	return out
}

// prepareChatMessages runs the full outbound pipeline for chat backends.
func prepareChatMessages(req GenerationRequest) []ChatMessage {
	return mergeAdjacentAssistant(repairOrphans(toChatMessages(req)))
}

// parseToolArguments decodes streamed or returned argument text. Invalid
// or empty JSON yields an empty argument object.
func parseToolArguments(raw string) (map[string]any, bool) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, true
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}, false
	}
	return args, true
}
