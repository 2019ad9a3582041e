package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/richinex/threadline/model"
)

// cancelledResult is recorded for calls that were still running when the
// run was cancelled, so history never holds an unanswered call.
const cancelledResult = "tool call cancelled before a result was submitted"

// toolBatch collects the responses to one model turn's function calls.
type toolBatch struct {
	calls     []model.FunctionCall
	responses map[string]model.FunctionResponse
	done      chan struct{}
}

// openBatch registers calls as pending. It must run before the calls are
// shown to the caller so an immediate result is never rejected.
func (e *Engine) openBatch(calls []model.FunctionCall) *toolBatch {
	b := &toolBatch{
		calls:     calls,
		responses: make(map[string]model.FunctionResponse, len(calls)),
		done:      make(chan struct{}),
	}
	e.mu.Lock()
	e.batch = b
	e.mu.Unlock()
	return b
}

// awaitBatch waits for every result, then appends one tool message with
// the responses in call order. On cancellation the missing responses are
// filled with a cancellation error and ctx's error is returned.
func (e *Engine) awaitBatch(ctx context.Context, b *toolBatch) error {
	var err error
	select {
	case <-b.done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.batch = nil

	responses := make([]model.FunctionResponse, len(b.calls))
	missing := 0
	for i, call := range b.calls {
		resp, ok := b.responses[call.ID]
		if !ok {
			missing++
			resp = model.FunctionResponse{
				ID:     call.ID,
				Name:   call.Name,
				Result: map[string]any{"error": cancelledResult},
			}
		}
		responses[i] = resp
	}
	if missing > 0 {
		e.logger.Info("recording cancelled tool calls", zap.Int("cancelled", missing))
	}
	e.history = append(e.history, model.ToolMessage(responses...))
	return err
}

// SubmitToolResult delivers the response to a pending function call.
// Results may arrive in any order. A response without an ID is matched
// to the first unanswered call with the same name.
func (e *Engine) SubmitToolResult(resp model.FunctionResponse) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.batch
	if b == nil {
		return ErrNoPendingToolCalls
	}

	var call *model.FunctionCall
	for i := range b.calls {
		c := &b.calls[i]
		if resp.ID != "" && c.ID == resp.ID {
			call = c
			break
		}
		if resp.ID == "" && c.Name == resp.Name {
			if _, answered := b.responses[c.ID]; !answered {
				call = c
				break
			}
		}
	}
	if call == nil {
		return fmt.Errorf("%w: id %q name %q", ErrUnknownToolCall, resp.ID, resp.Name)
	}
	if _, dup := b.responses[call.ID]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateToolResult, call.ID)
	}

	resp.ID = call.ID
	resp.Name = call.Name
	// Deep copy: the caller may keep mutating its result map.
	b.responses[call.ID] = model.ToolMessage(resp).Clone().FunctionResponses()[0]
	if len(b.responses) == len(b.calls) {
		close(b.done)
	}
	return nil
}
