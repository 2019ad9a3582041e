package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartKind(t *testing.T) {
	assert.Equal(t, PartEmpty, Part{}.Kind())
	assert.Equal(t, PartText, TextPart("hi").Kind())
	assert.Equal(t, PartFunctionCall, FunctionCallPart(FunctionCall{Name: "ls"}).Kind())
	assert.Equal(t, PartFunctionResponse, FunctionResponsePart(FunctionResponse{Name: "ls"}).Kind())
	assert.Equal(t, PartInlineData, InlineDataPart("image/png", []byte{1}).Kind())
}

func TestMessageAccessors(t *testing.T) {
	msg := ModelMessage(
		TextPart("let me "),
		TextPart("check"),
		FunctionCallPart(FunctionCall{ID: "c1", Name: "read"}),
		FunctionCallPart(FunctionCall{ID: "c2", Name: "grep"}),
	)

	assert.Equal(t, "let me check", msg.Text())
	calls := msg.FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[0].ID)
	assert.Equal(t, "c2", calls[1].ID)
	assert.False(t, msg.IsEmpty())
	assert.True(t, Message{Role: RoleModel, Parts: []Part{{}}}.IsEmpty())
}

func TestCloneIsDeep(t *testing.T) {
	orig := []Message{
		ModelMessage(FunctionCallPart(FunctionCall{
			ID:   "c1",
			Name: "write",
			Args: map[string]any{"path": "a.txt", "nested": map[string]any{"k": "v"}},
		})),
		{Role: RoleUser, Parts: []Part{InlineDataPart("image/png", []byte{1, 2, 3})}},
	}

	cloned := CloneHistory(orig)
	cloned[0].Parts[0].FunctionCall.Args["path"] = "b.txt"
	cloned[0].Parts[0].FunctionCall.Args["nested"].(map[string]any)["k"] = "changed"
	cloned[1].Parts[0].InlineData.Data[0] = 9

	assert.Equal(t, "a.txt", orig[0].Parts[0].FunctionCall.Args["path"])
	assert.Equal(t, "v", orig[0].Parts[0].FunctionCall.Args["nested"].(map[string]any)["k"])
	assert.Equal(t, byte(1), orig[1].Parts[0].InlineData.Data[0])
}

func TestCloneHistoryNil(t *testing.T) {
	out := CloneHistory(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestSerializedSizeGrowsWithContent(t *testing.T) {
	small := UserMessage("a")
	large := UserMessage("a much longer message body")
	assert.Less(t, small.SerializedSize(), large.SerializedSize())
}

func TestSplitsPair(t *testing.T) {
	history := []Message{
		UserMessage("list files"),
		ModelMessage(FunctionCallPart(FunctionCall{ID: "c1", Name: "ls"})),
		ToolMessage(FunctionResponse{ID: "c1", Name: "ls", Result: map[string]any{"output": "a"}}),
		ModelMessage(TextPart("one file")),
	}

	assert.False(t, SplitsPair(history, 0))
	assert.False(t, SplitsPair(history, 1))
	assert.True(t, SplitsPair(history, 2))
	assert.False(t, SplitsPair(history, 3))
	assert.False(t, SplitsPair(history, 4))
}

func TestSplitsPairByNameWhenIDMissing(t *testing.T) {
	history := []Message{
		ModelMessage(FunctionCallPart(FunctionCall{Name: "ls"})),
		ToolMessage(FunctionResponse{Name: "ls"}),
	}
	assert.True(t, SplitsPair(history, 1))
}

func TestPendingCalls(t *testing.T) {
	history := []Message{
		ModelMessage(
			FunctionCallPart(FunctionCall{ID: "c1", Name: "a"}),
			FunctionCallPart(FunctionCall{ID: "c2", Name: "b"}),
		),
		ToolMessage(FunctionResponse{ID: "c2", Name: "b"}),
	}

	pending := PendingCalls(history)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].ID)
}
