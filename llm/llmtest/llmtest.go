// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/richinex/threadline/llm"
	"github.com/richinex/threadline/model"
)

// Turn scripts one streamed reply. emit delivers an event to the
// consumer and reports false once the request context is done.
// Returning an error ends the stream with an EventError; returning nil
// ends it with EventDone.
type Turn func(ctx context.Context, req llm.GenerationRequest, emit func(llm.Event) bool) error

// Provider is a scripted llm.Provider. Streamed turns are consumed in
// order; once exhausted, Fallback (or a plain "ok" reply) is used.
type Provider struct {
	ProviderName string
	DefaultModel string

	// Fallback answers streamed requests once Turns is exhausted.
	Fallback Turn
	// GenerateFunc answers non-streamed requests. When nil, Generate
	// returns a model message with the text "ok".
	GenerateFunc func(ctx context.Context, req llm.GenerationRequest) (llm.Response, error)
	// CountFunc answers CountTokens. When nil, the character heuristic is used.
	CountFunc func(history []model.Message, modelID string) (int, error)
	// EmbedFunc answers Embed. When nil, each text maps to a vector of its length.
	EmbedFunc func(texts []string) ([][]float32, error)

	mu           sync.Mutex
	turns        []Turn
	streamReqs   []llm.GenerationRequest
	generateReqs []llm.GenerationRequest
	countModels  []string
}

// New creates a provider that replays turns.
func New(turns ...Turn) *Provider {
	return &Provider{ProviderName: "fake", DefaultModel: "fake-model", turns: turns}
}

// Push appends turns to the script.
func (p *Provider) Push(turns ...Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turns...)
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.ProviderName }

// Model returns the default model.
func (p *Provider) Model() string { return p.DefaultModel }

// Generate records req and answers it through GenerateFunc.
func (p *Provider) Generate(ctx context.Context, req llm.GenerationRequest) (llm.Response, error) {
	p.mu.Lock()
	p.generateReqs = append(p.generateReqs, cloneRequest(req))
	fn := p.GenerateFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return llm.Response{Message: model.ModelMessage(model.TextPart("ok"))}, nil
}

// GenerateStream records req and plays the next scripted turn.
func (p *Provider) GenerateStream(ctx context.Context, req llm.GenerationRequest) (<-chan llm.Event, error) {
	p.mu.Lock()
	p.streamReqs = append(p.streamReqs, cloneRequest(req))
	var turn Turn
	if len(p.turns) > 0 {
		turn = p.turns[0]
		p.turns = p.turns[1:]
	} else if p.Fallback != nil {
		turn = p.Fallback
	} else {
		turn = Text("ok")
	}
	p.mu.Unlock()

	events := make(chan llm.Event, 16)
	go func() {
		defer close(events)
		emit := func(ev llm.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := turn(ctx, req, emit)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			emit(llm.Event{Type: llm.EventError, Err: err})
			return
		}
		emit(llm.Event{Type: llm.EventDone, FinishReason: "stop"})
	}()
	return events, nil
}

// CountTokens records the model and answers through CountFunc.
func (p *Provider) CountTokens(_ context.Context, history []model.Message, modelID string) (int, error) {
	p.mu.Lock()
	p.countModels = append(p.countModels, modelID)
	fn := p.CountFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(history, modelID)
	}
	return llm.EstimateHistoryTokens(history), nil
}

// Embed answers through EmbedFunc.
func (p *Provider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

// StreamRequests returns the streamed requests seen so far.
func (p *Provider) StreamRequests() []llm.GenerationRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.GenerationRequest(nil), p.streamReqs...)
}

// GenerateRequests returns the non-streamed requests seen so far.
func (p *Provider) GenerateRequests() []llm.GenerationRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.GenerationRequest(nil), p.generateReqs...)
}

// CountModels returns the model ids CountTokens was asked about.
func (p *Provider) CountModels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.countModels...)
}

func cloneRequest(req llm.GenerationRequest) llm.GenerationRequest {
	req.History = model.CloneHistory(req.History)
	req.NewMessage = req.NewMessage.Clone()
	return req
}

// Text streams each chunk as a text delta.
func Text(chunks ...string) Turn {
	return func(_ context.Context, _ llm.GenerationRequest, emit func(llm.Event) bool) error {
		for _, c := range chunks {
			if !emit(llm.Event{Type: llm.EventTextDelta, Text: c}) {
				return nil
			}
		}
		return nil
	}
}

// Calls streams optional text followed by function calls.
func Calls(text string, calls ...model.FunctionCall) Turn {
	return func(_ context.Context, _ llm.GenerationRequest, emit func(llm.Event) bool) error {
		if text != "" && !emit(llm.Event{Type: llm.EventTextDelta, Text: text}) {
			return nil
		}
		for _, c := range calls {
			c := c
			if !emit(llm.Event{Type: llm.EventFunctionCall, FunctionCall: &c}) {
				return nil
			}
		}
		return nil
	}
}

// Fail ends the stream with err before any output.
func Fail(err error) Turn {
	return func(context.Context, llm.GenerationRequest, func(llm.Event) bool) error {
		return err
	}
}

// FailAfter streams chunks and then ends the stream with err.
func FailAfter(err error, chunks ...string) Turn {
	return func(ctx context.Context, req llm.GenerationRequest, emit func(llm.Event) bool) error {
		Text(chunks...)(ctx, req, emit)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// Hang streams chunks and then blocks until the request is cancelled.
// started is closed once the chunks were delivered.
func Hang(started chan<- struct{}, chunks ...string) Turn {
	return func(ctx context.Context, _ llm.GenerationRequest, emit func(llm.Event) bool) error {
		for _, c := range chunks {
			if !emit(llm.Event{Type: llm.EventTextDelta, Text: c}) {
				return nil
			}
		}
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

// Usage streams a usage event ahead of the wrapped turn.
func Usage(prompt, completion uint32, next Turn) Turn {
	return func(ctx context.Context, req llm.GenerationRequest, emit func(llm.Event) bool) error {
		if !emit(llm.Event{Type: llm.EventUsage, Usage: &llm.TokenUsage{
			PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion,
		}}) {
			return nil
		}
		return next(ctx, req, emit)
	}
}

// Errorf is a convenience for scripted failures.
func Errorf(format string, args ...any) Turn {
	return Fail(fmt.Errorf(format, args...))
}

// Verify Provider implements llm.Provider
var _ llm.Provider = (*Provider)(nil)
