package llm

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/richinex/threadline/model"
)

// pendingToolCall collects the fragments of one streamed tool call.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// toolCallAccumulator reassembles streamed tool calls keyed by the
// backend's call index. Calls are only released by flush, which the
// adapters invoke when the backend signals turn completion.
type toolCallAccumulator struct {
	calls  map[int]*pendingToolCall
	logger *zap.Logger
}

func newToolCallAccumulator(logger *zap.Logger) *toolCallAccumulator {
	return &toolCallAccumulator{
		calls:  make(map[int]*pendingToolCall),
		logger: logger,
	}
}

// add merges a fragment into the call at index. Empty fields are ignored
// so that id, name and argument text can arrive in separate chunks.
func (a *toolCallAccumulator) add(index int, id, name, argsFragment string) {
	call, ok := a.calls[index]
	if !ok {
		call = &pendingToolCall{}
		a.calls[index] = call
	}
	if id != "" {
		call.id = id
	}
	if name != "" {
		call.name = name
	}
	call.args.WriteString(argsFragment)
}

func (a *toolCallAccumulator) empty() bool {
	return len(a.calls) == 0
}

// flush parses and returns all accumulated calls in index order, then
// resets the accumulator.
func (a *toolCallAccumulator) flush() []model.FunctionCall {
	if len(a.calls) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]model.FunctionCall, 0, len(indexes))
	for _, i := range indexes {
		call := a.calls[i]
		args, ok := parseToolArguments(call.args.String())
		if !ok {
			a.logger.Warn("malformed tool call arguments, substituting empty object",
				zap.String("tool", call.name),
				zap.String("call_id", call.id))
		}
		id := call.id
		if id == "" {
			id = newCallID()
		}
		out = append(out, model.FunctionCall{ID: id, Name: call.name, Args: args})
	}

	a.calls = make(map[int]*pendingToolCall)
	return out
}

// newCallID generates an id for backends that do not assign one.
func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
