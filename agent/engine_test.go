package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/compression"
	"github.com/richinex/threadline/llm"
	"github.com/richinex/threadline/llm/llmtest"
	"github.com/richinex/threadline/model"
	"github.com/richinex/threadline/storage"
)

func largeContext(string) (int, error) { return 1_000_000, nil }

func newTestEngine(t *testing.T, cfg Config, p *llmtest.Provider, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithCompression(compression.WithContextLimit(largeContext))}
	return New(cfg, p, append(base, opts...)...)
}

// collect drains events until the run closes the channel.
func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("run did not finish")
		}
	}
}

func send(t *testing.T, e *Engine, text string) []Event {
	t.Helper()
	events, err := e.SendMessage(context.Background(), []model.Part{model.TextPart(text)}, 0)
	require.NoError(t, err)
	return collect(t, events)
}

func ofType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func streamedText(events []Event) string {
	var sb strings.Builder
	for _, ev := range ofType(events, EventContent) {
		sb.WriteString(ev.Text)
	}
	return sb.String()
}

func nextSpeaker(speaker Speaker) func(context.Context, llm.GenerationRequest) (llm.Response, error) {
	reply := `{"reasoning": "test", "next_speaker": "` + string(speaker) + `"}`
	return func(context.Context, llm.GenerationRequest) (llm.Response, error) {
		return llm.Response{Message: model.ModelMessage(model.TextPart(reply))}, nil
	}
}

func TestSendMessageCommitsTurn(t *testing.T) {
	p := llmtest.New(llmtest.Usage(3, 2, llmtest.Text("Hel", "lo")))
	e := newTestEngine(t, DefaultConfig(), p)

	events := send(t, e, "hi")

	assert.Equal(t, "Hello", streamedText(events))
	require.Len(t, ofType(events, EventUsage), 1)
	assert.Empty(t, ofType(events, EventError))

	history := e.GetHistory()
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Text())
	assert.Equal(t, model.RoleModel, history[1].Role)
	assert.Equal(t, "Hello", history[1].Text())

	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, uint32(5), e.Usage().TotalTokens)
	assert.Equal(t, 1, e.SessionTurns())

	reqs := p.StreamRequests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].History)
	assert.Equal(t, "hi", reqs[0].NewMessage.Text())
	assert.Equal(t, "fake-model", reqs[0].Model)
}

func TestSendMessageRejectsEmptyInput(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), llmtest.New())

	_, err := e.SendMessage(context.Background(), nil, 0)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = e.SendMessage(context.Background(), []model.Part{model.TextPart("")}, 0)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestEmptyReplyIsNotCommitted(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), llmtest.New(llmtest.Text()))

	events := send(t, e, "hi")

	assert.Empty(t, ofType(events, EventError))
	assert.Empty(t, e.GetHistory())
	assert.Equal(t, StateIdle, e.State())
}

func TestQuestionEndsRunWithoutNextSpeakerQuery(t *testing.T) {
	p := llmtest.New(llmtest.Text("Shall I continue?"))
	p.GenerateFunc = nextSpeaker(SpeakerModel)
	e := newTestEngine(t, DefaultConfig(), p)

	send(t, e, "hi")

	assert.Empty(t, p.GenerateRequests())
	assert.Len(t, p.StreamRequests(), 1)
	assert.Equal(t, StateIdle, e.State())
}

func TestModelKeepsFloor(t *testing.T) {
	p := llmtest.New(llmtest.Text("First I will look around."), llmtest.Text("Done."))
	var mu sync.Mutex
	calls := 0
	p.GenerateFunc = func(ctx context.Context, req llm.GenerationRequest) (llm.Response, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nextSpeaker(SpeakerModel)(ctx, req)
		}
		return nextSpeaker(SpeakerUser)(ctx, req)
	}
	e := newTestEngine(t, DefaultConfig(), p)

	send(t, e, "hi")

	reqs := p.StreamRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, continuePrompt, reqs[1].NewMessage.Text())

	history := e.GetHistory()
	require.Len(t, history, 4)
	assert.Equal(t, continuePrompt, history[2].Text())
	assert.Equal(t, "Done.", history[3].Text())
	assert.Equal(t, 2, e.SessionTurns())
}

func TestUnparseableNextSpeakerYieldsToUser(t *testing.T) {
	p := llmtest.New(llmtest.Text("Working on it."))
	p.GenerateFunc = func(context.Context, llm.GenerationRequest) (llm.Response, error) {
		return llm.Response{Message: model.ModelMessage(model.TextPart("not json"))}, nil
	}
	e := newTestEngine(t, DefaultConfig(), p)

	send(t, e, "hi")

	assert.Len(t, p.StreamRequests(), 1)
	assert.Len(t, p.GenerateRequests(), 1)
	assert.Equal(t, StateIdle, e.State())
}

func TestTurnCapStopsRunawayModel(t *testing.T) {
	p := llmtest.New()
	p.Fallback = llmtest.Text("still going")
	p.GenerateFunc = nextSpeaker(SpeakerModel)
	e := newTestEngine(t, DefaultConfig(), p)

	events, err := e.SendMessage(context.Background(), []model.Part{model.TextPart("go")}, 1<<30)
	require.NoError(t, err)
	got := collect(t, events)

	assert.Len(t, p.StreamRequests(), MaxTurns)
	assert.Empty(t, ofType(got, EventError))
	assert.Equal(t, StateMaxTurnsReached, e.State())

	history := e.GetHistory()
	assert.Len(t, history, 2*MaxTurns)
	assert.Equal(t, model.RoleModel, history[len(history)-1].Role)
}

func TestTurnBudgetBoundsToolLoop(t *testing.T) {
	p := llmtest.New()
	p.Fallback = llmtest.Calls("", model.FunctionCall{Name: "echo"})
	e := newTestEngine(t, DefaultConfig(), p)

	events, err := e.SendMessage(context.Background(), []model.Part{model.TextPart("loop")}, 3)
	require.NoError(t, err)

	for ev := range events {
		if ev.Type == EventToolCallRequest {
			require.NoError(t, e.SubmitToolResult(model.FunctionResponse{
				ID:     ev.ToolCall.ID,
				Name:   ev.ToolCall.Name,
				Result: map[string]any{"output": "again"},
			}))
		}
	}

	assert.Len(t, p.StreamRequests(), 3)
	assert.Equal(t, StateMaxTurnsReached, e.State())
	history := e.GetHistory()
	assert.Len(t, history, 7)
	assert.Empty(t, model.PendingCalls(history))

	// The next message starts a fresh budget.
	p.Push(llmtest.Text("ok"))
	send(t, e, "stop")
	assert.Equal(t, StateIdle, e.State())
}

func TestSessionCapEmitsSingleEvent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessionTurns = 2
	p := llmtest.New()
	e := newTestEngine(t, cfg, p)

	send(t, e, "one")
	send(t, e, "two")
	require.Len(t, p.StreamRequests(), 2)

	for i := 0; i < 2; i++ {
		events := send(t, e, "three")
		capped := ofType(events, EventMaxSessionTurns)
		require.Len(t, capped, 1)
		assert.Len(t, events, 1)
		assert.Contains(t, capped[0].Message, "2")
		assert.Equal(t, StateMaxSessionTurnsReached, e.State())
	}
	assert.Len(t, p.StreamRequests(), 2)

	// Reset does not refill the session allowance.
	require.NoError(t, e.ResetChat())
	events := send(t, e, "four")
	assert.Len(t, ofType(events, EventMaxSessionTurns), 1)
	assert.Len(t, p.StreamRequests(), 2)
}

func TestSessionCapInsideToolLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessionTurns = 1
	p := llmtest.New(llmtest.Calls("", model.FunctionCall{ID: "c1", Name: "echo"}))
	e := newTestEngine(t, cfg, p)

	events, err := e.SendMessage(context.Background(), []model.Part{model.TextPart("go")}, 0)
	require.NoError(t, err)

	var capped int
	for ev := range events {
		switch ev.Type {
		case EventToolCallRequest:
			require.NoError(t, e.SubmitToolResult(model.FunctionResponse{ID: "c1", Name: "echo"}))
		case EventMaxSessionTurns:
			capped++
		}
	}

	assert.Equal(t, 1, capped)
	assert.Len(t, p.StreamRequests(), 1)
	assert.Equal(t, StateMaxSessionTurnsReached, e.State())
	assert.Len(t, e.GetHistory(), 3)
}

func quotaError() error {
	return &apierror.Error{
		Backend: "fake",
		Status:  429,
		Message: "Quota exceeded for quota metric 'Requests per day'",
	}
}

func fallbackConfig() Config {
	cfg := DefaultConfig()
	cfg.Model = "primary"
	cfg.FallbackModel = "backup"
	return cfg
}

func TestFallbackAcceptedRetriesOnce(t *testing.T) {
	p := llmtest.New(llmtest.Fail(quotaError()), llmtest.Text("recovered"))

	var requests []FallbackRequest
	handler := func(ctx context.Context, req FallbackRequest) FallbackDecision {
		requests = append(requests, req)
		return AcceptFallback(ctx, req)
	}
	e := newTestEngine(t, fallbackConfig(), p, WithFallbackHandler(handler))

	events := send(t, e, "hi")

	require.Len(t, requests, 1)
	assert.Equal(t, "primary", requests[0].CurrentModel)
	assert.Equal(t, "backup", requests[0].FallbackModel)
	assert.True(t, requests[0].Classification.IsRateLimit())
	assert.NotEmpty(t, requests[0].Message)

	switched := ofType(events, EventModelFallback)
	require.Len(t, switched, 1)
	assert.Equal(t, &ModelSwitch{From: "primary", To: "backup"}, switched[0].Fallback)
	assert.Empty(t, ofType(events, EventError))

	reqs := p.StreamRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "primary", reqs[0].Model)
	assert.Equal(t, "backup", reqs[1].Model)
	assert.Equal(t, "backup", e.Model())
	assert.Equal(t, "recovered", e.GetHistory()[1].Text())
	assert.Equal(t, 1, e.SessionTurns())

	send(t, e, "again")
	reqs = p.StreamRequests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "backup", reqs[2].Model)
}

func TestFallbackDeclinedSurfacesError(t *testing.T) {
	err := quotaError()
	p := llmtest.New(llmtest.Fail(err))
	e := newTestEngine(t, fallbackConfig(), p, WithFallbackHandler(DeclineFallback))

	events := send(t, e, "hi")

	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "primary")
	assert.NotContains(t, errs[0].Message, "Switching")
	assert.NotContains(t, errs[0].Message, "backup")
	assert.Empty(t, ofType(events, EventModelFallback))
	assert.Len(t, p.StreamRequests(), 1)
	assert.Equal(t, "primary", e.Model())
	assert.Empty(t, e.GetHistory())
	assert.Equal(t, StateIdle, e.State())
}

func TestFallbackSkippedForOtherErrors(t *testing.T) {
	p := llmtest.New(llmtest.Errorf("connection reset"))
	called := false
	handler := func(context.Context, FallbackRequest) FallbackDecision {
		called = true
		return FallbackDecision{Accepted: true}
	}
	e := newTestEngine(t, fallbackConfig(), p, WithFallbackHandler(handler))

	events := send(t, e, "hi")

	assert.False(t, called)
	assert.Len(t, ofType(events, EventError), 1)
	assert.Len(t, p.StreamRequests(), 1)
}

func TestFallbackRetryFailureSurfaces(t *testing.T) {
	p := llmtest.New(llmtest.Fail(quotaError()), llmtest.Fail(quotaError()))
	calls := 0
	handler := func(ctx context.Context, req FallbackRequest) FallbackDecision {
		calls++
		return AcceptFallback(ctx, req)
	}
	e := newTestEngine(t, fallbackConfig(), p, WithFallbackHandler(handler))

	events := send(t, e, "hi")

	assert.Equal(t, 1, calls)
	assert.Len(t, p.StreamRequests(), 2)
	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "backup")
	assert.NotContains(t, errs[0].Message, "Switching")
	assert.Equal(t, "backup", e.Model())
}

func TestRateLimitOnFallbackModelDoesNotOfferSwitch(t *testing.T) {
	p := llmtest.New(llmtest.Fail(quotaError()), llmtest.Text("ok"), llmtest.Fail(quotaError()))
	calls := 0
	handler := func(ctx context.Context, req FallbackRequest) FallbackDecision {
		calls++
		return AcceptFallback(ctx, req)
	}
	e := newTestEngine(t, fallbackConfig(), p, WithFallbackHandler(handler))

	send(t, e, "hi")
	events := send(t, e, "again")

	assert.Equal(t, 1, calls)
	assert.Empty(t, ofType(events, EventModelFallback))
	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "backup")
	assert.NotContains(t, errs[0].Message, "Switching")
}

func TestFallbackMarksStreamedTextDiscarded(t *testing.T) {
	p := llmtest.New(llmtest.FailAfter(quotaError(), "half an ans"), llmtest.Text("full answer"))
	e := newTestEngine(t, fallbackConfig(), p, WithFallbackHandler(AcceptFallback))

	events := send(t, e, "hi")

	switched := ofType(events, EventModelFallback)
	require.Len(t, switched, 1)
	assert.Equal(t, "half an ans", switched[0].Fallback.Discarded)

	var after strings.Builder
	seen := false
	for _, ev := range events {
		if ev.Type == EventModelFallback {
			seen = true
			continue
		}
		if seen && ev.Type == EventContent {
			after.WriteString(ev.Text)
		}
	}
	assert.Equal(t, "full answer", after.String())
	assert.Equal(t, "full answer", e.GetHistory()[1].Text())
}

func TestFallbackWithoutFallbackModel(t *testing.T) {
	p := llmtest.New(llmtest.Fail(quotaError()))
	called := false
	handler := func(context.Context, FallbackRequest) FallbackDecision {
		called = true
		return FallbackDecision{Accepted: true}
	}
	cfg := fallbackConfig()
	cfg.FallbackModel = ""
	e := newTestEngine(t, cfg, p, WithFallbackHandler(handler))

	events := send(t, e, "hi")

	assert.False(t, called)
	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "primary")
	assert.NotContains(t, errs[0].Message, "Switching")
	assert.NotContains(t, errs[0].Message, "  ")
	assert.Equal(t, "primary", e.Model())
}

func TestConcurrentSendIsRejected(t *testing.T) {
	started := make(chan struct{})
	p := llmtest.New(llmtest.Hang(started, "partial"))
	e := newTestEngine(t, DefaultConfig(), p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := e.SendMessage(ctx, []model.Part{model.TextPart("first")}, 0)
	require.NoError(t, err)
	<-started

	_, err = e.SendMessage(context.Background(), []model.Part{model.TextPart("second")}, 0)
	assert.ErrorIs(t, err, apierror.ErrBusy)
	assert.ErrorIs(t, e.AddHistory(model.UserMessage("x")), apierror.ErrBusy)
	assert.ErrorIs(t, e.ResetChat(), apierror.ErrBusy)
	_, err = e.TryCompressChat(context.Background(), true)
	assert.ErrorIs(t, err, apierror.ErrBusy)

	cancel()
	collect(t, events)
}

func TestCancellationDiscardsPartialTurn(t *testing.T) {
	started := make(chan struct{})
	p := llmtest.New(llmtest.Hang(started, "partial"))
	e := newTestEngine(t, DefaultConfig(), p)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := e.SendMessage(ctx, []model.Part{model.TextPart("hi")}, 0)
	require.NoError(t, err)
	<-started
	cancel()

	got := collect(t, events)
	assert.Empty(t, ofType(got, EventError))
	assert.Empty(t, e.GetHistory())
	assert.Equal(t, StateIdle, e.State())

	// The engine accepts the next message once the channel is closed.
	p.Push(llmtest.Text("fresh"))
	send(t, e, "again")
	history := e.GetHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "fresh", history[1].Text())
}

func TestToolResultsAcceptedInAnyOrder(t *testing.T) {
	p := llmtest.New(
		llmtest.Calls("Checking.",
			model.FunctionCall{ID: "a", Name: "one", Args: map[string]any{"n": 1}},
			model.FunctionCall{ID: "b", Name: "two"},
		),
		llmtest.Text("done"),
	)
	e := newTestEngine(t, DefaultConfig(), p)

	assert.ErrorIs(t, e.SubmitToolResult(model.FunctionResponse{ID: "a"}), ErrNoPendingToolCalls)

	events, err := e.SendMessage(context.Background(), []model.Part{model.TextPart("go")}, 0)
	require.NoError(t, err)

	var requested []model.FunctionCall
	for ev := range events {
		if ev.Type != EventToolCallRequest {
			continue
		}
		requested = append(requested, *ev.ToolCall)
		if len(requested) < 2 {
			continue
		}
		assert.Equal(t, StateToolsPending, e.State())
		require.NoError(t, e.SubmitToolResult(model.FunctionResponse{ID: "b", Result: map[string]any{"output": "B"}}))
		assert.ErrorIs(t, e.SubmitToolResult(model.FunctionResponse{ID: "b"}), ErrDuplicateToolResult)
		assert.ErrorIs(t, e.SubmitToolResult(model.FunctionResponse{ID: "zzz"}), ErrUnknownToolCall)
		require.NoError(t, e.SubmitToolResult(model.FunctionResponse{ID: "a", Result: map[string]any{"output": "A"}}))
	}

	require.Len(t, requested, 2)
	assert.Equal(t, "a", requested[0].ID)
	assert.Equal(t, "b", requested[1].ID)

	history := e.GetHistory()
	require.Len(t, history, 4)
	assert.Equal(t, "Checking.", history[1].Text())
	assert.Len(t, history[1].FunctionCalls(), 2)

	responses := history[2].FunctionResponses()
	require.Len(t, responses, 2)
	assert.Equal(t, "a", responses[0].ID)
	assert.Equal(t, "one", responses[0].Name)
	assert.Equal(t, "A", responses[0].Result["output"])
	assert.Equal(t, "b", responses[1].ID)
	assert.Equal(t, "two", responses[1].Name)
	assert.Equal(t, "done", history[3].Text())

	// The tool message travels with the continuation request.
	reqs := p.StreamRequests()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[1].NewMessage.IsEmpty())
	assert.Len(t, reqs[1].History, 3)
}

func TestCallsWithoutIDsGetUniqueIDs(t *testing.T) {
	p := llmtest.New(
		llmtest.Calls("", model.FunctionCall{Name: "x"}, model.FunctionCall{Name: "x"}),
		llmtest.Text("ok"),
	)
	e := newTestEngine(t, DefaultConfig(), p)

	events, err := e.SendMessage(context.Background(), []model.Part{model.TextPart("go")}, 0)
	require.NoError(t, err)

	var requested []model.FunctionCall
	for ev := range events {
		if ev.Type != EventToolCallRequest {
			continue
		}
		requested = append(requested, *ev.ToolCall)
		if len(requested) == 2 {
			// Name-only results fill the calls in order.
			require.NoError(t, e.SubmitToolResult(model.FunctionResponse{Name: "x", Result: map[string]any{"output": "1"}}))
			require.NoError(t, e.SubmitToolResult(model.FunctionResponse{Name: "x", Result: map[string]any{"output": "2"}}))
		}
	}

	require.Len(t, requested, 2)
	assert.NotEmpty(t, requested[0].ID)
	assert.NotEqual(t, requested[0].ID, requested[1].ID)
	assert.NotNil(t, requested[0].Args)

	responses := e.GetHistory()[2].FunctionResponses()
	require.Len(t, responses, 2)
	assert.Equal(t, requested[0].ID, responses[0].ID)
	assert.Equal(t, "1", responses[0].Result["output"])
	assert.Equal(t, requested[1].ID, responses[1].ID)
}

func TestCancellationDuringToolsAnswersPendingCalls(t *testing.T) {
	p := llmtest.New(llmtest.Calls("", model.FunctionCall{ID: "slow", Name: "sleep"}))
	e := newTestEngine(t, DefaultConfig(), p)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := e.SendMessage(ctx, []model.Part{model.TextPart("go")}, 0)
	require.NoError(t, err)

	go func() {
		for ev := range events {
			if ev.Type == EventToolCallRequest {
				cancel()
			}
		}
	}()

	require.Eventually(t, func() bool {
		return e.State() == StateIdle && len(e.GetHistory()) == 3
	}, 5*time.Second, 5*time.Millisecond)

	history := e.GetHistory()
	assert.Empty(t, model.PendingCalls(history))
	responses := history[2].FunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, cancelledResult, responses[0].Result["error"])
	assert.ErrorIs(t, e.SubmitToolResult(model.FunctionResponse{ID: "slow"}), ErrNoPendingToolCalls)
}

func TestSubmittedResultIsCopied(t *testing.T) {
	p := llmtest.New(llmtest.Calls("", model.FunctionCall{ID: "c", Name: "echo"}), llmtest.Text("ok"))
	e := newTestEngine(t, DefaultConfig(), p)

	events, err := e.SendMessage(context.Background(), []model.Part{model.TextPart("go")}, 0)
	require.NoError(t, err)
	for ev := range events {
		if ev.Type == EventToolCallRequest {
			result := map[string]any{"output": "original"}
			require.NoError(t, e.SubmitToolResult(model.FunctionResponse{ID: "c", Result: result}))
			result["output"] = "mutated"
		}
	}

	assert.Equal(t, "original", e.GetHistory()[2].FunctionResponses()[0].Result["output"])
}

func longHistory() []model.Message {
	word := strings.Repeat("context ", 200)
	return []model.Message{
		model.UserMessage("first " + word),
		model.ModelMessage(model.TextPart("reply " + word)),
		model.UserMessage("second " + word),
		model.ModelMessage(model.TextPart("reply " + word)),
	}
}

func TestCompressionBeforeTurn(t *testing.T) {
	p := llmtest.New(llmtest.Text("ok"))
	p.GenerateFunc = func(context.Context, llm.GenerationRequest) (llm.Response, error) {
		return llm.Response{Message: model.ModelMessage(model.TextPart("short summary"))}, nil
	}
	e := newTestEngine(t, DefaultConfig(), p, WithCompression(compression.WithContextLimit(func(string) (int, error) {
		return 500, nil
	})))
	for _, msg := range longHistory() {
		require.NoError(t, e.AddHistory(msg))
	}
	before := e.SessionID()

	events := send(t, e, "next")

	compressed := ofType(events, EventChatCompressed)
	require.Len(t, compressed, 1)
	info := compressed[0].Compression
	assert.Less(t, info.NewTokenCount, info.OriginalTokenCount)
	assert.NotEqual(t, before, e.SessionID())

	history := e.GetHistory()
	assert.Contains(t, history[0].Text(), "short summary")
	assert.Less(t, len(history), len(longHistory())+2)
	assert.Equal(t, "next", history[len(history)-2].Text())
}

func TestCompressionUnknownModelFails(t *testing.T) {
	p := llmtest.New()
	e := New(DefaultConfig(), p)
	require.NoError(t, e.AddHistory(model.UserMessage("earlier")))

	events := send(t, e, "hi")

	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, apierror.ErrUnknownModel)
	assert.Empty(t, p.StreamRequests())
}

func TestTryCompressChatForced(t *testing.T) {
	p := llmtest.New()
	e := newTestEngine(t, DefaultConfig(), p)
	for _, msg := range longHistory() {
		require.NoError(t, e.AddHistory(msg))
	}
	before := e.SessionID()

	result, err := e.TryCompressChat(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEqual(t, before, e.SessionID())
	assert.Equal(t, result.History, e.GetHistory())

	unforced, err := e.TryCompressChat(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, unforced)
}

func TestResetChatSeedsHistory(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), llmtest.New())
	send(t, e, "hi")
	before := e.SessionID()

	seed := []model.Message{model.UserMessage("seeded")}
	require.NoError(t, e.ResetChat(seed...))
	seed[0].Parts[0].Text = "changed"

	history := e.GetHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "seeded", history[0].Text())
	assert.NotEqual(t, before, e.SessionID())
	assert.Equal(t, StateIdle, e.State())
}

func TestHistoryIsCopied(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), llmtest.New())
	send(t, e, "hi")

	history := e.GetHistory()
	history[0].Parts[0].Text = "tampered"
	assert.Equal(t, "hi", e.GetHistory()[0].Text())
}

func TestCheckpoints(t *testing.T) {
	store := storage.NewInMemoryStorage()
	e := newTestEngine(t, DefaultConfig(), llmtest.New(), WithStorage(store))
	ctx := context.Background()

	send(t, e, "remember me")
	require.NoError(t, e.SaveCheckpoint(ctx, "tag-1"))
	require.NoError(t, e.ResetChat())
	require.Empty(t, e.GetHistory())

	require.NoError(t, e.ResumeCheckpoint(ctx, "tag-1"))
	history := e.GetHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "remember me", history[0].Text())

	err := e.ResumeCheckpoint(ctx, "missing")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)

	tags, err := e.ListCheckpoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tag-1"}, tags)

	require.NoError(t, e.DeleteCheckpoint(ctx, "tag-1"))
	tags, err = e.ListCheckpoints(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestCheckpointsRequireStorage(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), llmtest.New())
	ctx := context.Background()

	assert.ErrorIs(t, e.SaveCheckpoint(ctx, "x"), ErrNoStorage)
	assert.ErrorIs(t, e.ResumeCheckpoint(ctx, "x"), ErrNoStorage)
	_, err := e.ListCheckpoints(ctx)
	assert.ErrorIs(t, err, ErrNoStorage)
	assert.True(t, errors.Is(e.DeleteCheckpoint(ctx, "x"), ErrNoStorage))
}

func TestAutosave(t *testing.T) {
	store := storage.NewInMemoryStorage()
	e := newTestEngine(t, DefaultConfig(), llmtest.New(), WithStorage(store), WithAutosave("auto"))

	send(t, e, "hi")

	saved, err := store.Load(context.Background(), "auto")
	require.NoError(t, err)
	assert.Equal(t, e.GetHistory(), saved)
}
