package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/threadline/model"
)

func call(id, name string) model.Part {
	return model.FunctionCallPart(model.FunctionCall{ID: id, Name: name, Args: map[string]any{"q": id}})
}

func result(id, name string) model.FunctionResponse {
	return model.FunctionResponse{ID: id, Name: name, Result: map[string]any{"ok": true}}
}

func assertNoOrphans(t *testing.T, messages []ChatMessage) {
	t.Helper()
	issued := map[string]bool{}
	answered := map[string]bool{}
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			issued[tc.ID] = true
		}
		if m.Role == chatRoleTool {
			assert.True(t, issued[m.ToolCallID], "tool result %s has no earlier call", m.ToolCallID)
			answered[m.ToolCallID] = true
		}
	}
	for id := range issued {
		assert.True(t, answered[id], "call %s has no result", id)
	}
}

func TestToChatMessages_Shapes(t *testing.T) {
	req := GenerationRequest{
		SystemInstruction: "be brief",
		History: []model.Message{
			model.UserMessage("weather?"),
			model.ModelMessage(model.TextPart("checking"), call("a", "weather")),
			model.ToolMessage(result("a", "weather")),
		},
		NewMessage: model.Message{Role: model.RoleUser, Parts: []model.Part{
			model.TextPart("and this image"),
			model.InlineDataPart("image/png", []byte{1, 2}),
		}},
	}

	msgs := toChatMessages(req)
	require.Len(t, msgs, 5)
	assert.Equal(t, chatRoleSystem, msgs[0].Role)
	assert.Equal(t, "be brief", msgs[0].Content)
	assert.Equal(t, chatRoleUser, msgs[1].Role)
	assert.Equal(t, chatRoleAssistant, msgs[2].Role)
	assert.Equal(t, "checking", msgs[2].Content)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.JSONEq(t, `{"q":"a"}`, string(msgs[2].ToolCalls[0].Arguments))
	assert.Equal(t, chatRoleTool, msgs[3].Role)
	assert.Equal(t, "a", msgs[3].ToolCallID)
	assert.JSONEq(t, `{"ok":true}`, msgs[3].Content)
	assert.Equal(t, "and this image", msgs[4].Content)
	require.Len(t, msgs[4].Attachments, 1)
	assert.Equal(t, "image/png", msgs[4].Attachments[0].MIMEType)
}

func TestRepairOrphans_DropsUnansweredCalls(t *testing.T) {
	req := GenerationRequest{History: []model.Message{
		model.UserMessage("go"),
		model.ModelMessage(call("a", "one"), call("b", "two")),
		model.ToolMessage(result("a", "one")),
	}}

	msgs := repairOrphans(toChatMessages(req))
	require.Len(t, msgs, 3)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "a", msgs[1].ToolCalls[0].ID)
	assertNoOrphans(t, msgs)
}

func TestRepairOrphans_DropsResultsWithoutCall(t *testing.T) {
	req := GenerationRequest{History: []model.Message{
		model.ToolMessage(result("ghost", "x")),
		model.UserMessage("hello"),
	}}

	msgs := repairOrphans(toChatMessages(req))
	require.Len(t, msgs, 1)
	assert.Equal(t, chatRoleUser, msgs[0].Role)
}

func TestRepairOrphans_ResultBeforeCall(t *testing.T) {
	// The result precedes its call, so neither side survives.
	req := GenerationRequest{History: []model.Message{
		model.UserMessage("start"),
		model.ToolMessage(result("a", "one")),
		model.ModelMessage(call("a", "one")),
		model.UserMessage("next"),
	}}

	msgs := repairOrphans(toChatMessages(req))
	require.Len(t, msgs, 2)
	assert.Equal(t, "start", msgs[0].Content)
	assert.Equal(t, "next", msgs[1].Content)
}

func TestRepairOrphans_FixedPoint(t *testing.T) {
	req := GenerationRequest{History: []model.Message{
		model.UserMessage("u1"),
		model.ModelMessage(call("a", "one")),
		model.ToolMessage(result("a", "one"), result("z", "zz")),
		model.ModelMessage(model.TextPart("partial"), call("b", "two"), call("c", "three")),
		model.ToolMessage(result("c", "three")),
		model.ModelMessage(call("d", "four")),
		model.UserMessage("u2"),
	}}

	once := repairOrphans(toChatMessages(req))
	twice := repairOrphans(once)
	assert.Equal(t, once, twice)
	assertNoOrphans(t, once)
}

func TestMergeAdjacentAssistant(t *testing.T) {
	req := GenerationRequest{History: []model.Message{
		model.UserMessage("hi"),
		model.ModelMessage(model.TextPart("part one, ")),
		model.ModelMessage(model.TextPart("part two"), call("a", "one")),
		model.ToolMessage(result("a", "one")),
	}}

	msgs := prepareChatMessages(req)
	require.Len(t, msgs, 3)
	assert.Equal(t, chatRoleAssistant, msgs[1].Role)
	assert.Equal(t, "part one, part two", msgs[1].Content)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, chatRoleTool, msgs[2].Role)
}

func TestMergeAdjacentAssistant_DoesNotAliasInput(t *testing.T) {
	in := []ChatMessage{
		{Role: chatRoleAssistant, ToolCalls: []ToolCall{{ID: "a"}}},
		{Role: chatRoleAssistant, ToolCalls: []ToolCall{{ID: "b"}}},
	}
	out := mergeAdjacentAssistant(in)
	require.Len(t, out, 1)
	assert.Len(t, out[0].ToolCalls, 2)
	assert.Len(t, in[0].ToolCalls, 1)
}

func TestParseToolArguments(t *testing.T) {
	args, ok := parseToolArguments(`{"city":"Paris"}`)
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"city": "Paris"}, args)

	args, ok = parseToolArguments("   ")
	assert.True(t, ok)
	assert.Empty(t, args)

	args, ok = parseToolArguments(`{"city":`)
	assert.False(t, ok)
	assert.NotNil(t, args)
	assert.Empty(t, args)

	args, ok = parseToolArguments(`null`)
	assert.False(t, ok)
	assert.NotNil(t, args)
}
