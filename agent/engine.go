// Conversation engine - the turn-continuation loop.
//
// Information Hiding:
// - History ownership and single-writer discipline hidden behind the Engine
// - Turn streaming, tool batches and next-speaker recursion hidden in run
// - Compression, fallback and session caps applied as guards on transitions

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/compression"
	"github.com/richinex/threadline/llm"
	"github.com/richinex/threadline/model"
	"github.com/richinex/threadline/storage"
)

// Errors returned by engine operations.
var (
	ErrEmptyMessage        = errors.New("message has no content")
	ErrNoPendingToolCalls  = errors.New("no tool calls are pending")
	ErrUnknownToolCall     = errors.New("result does not match a pending tool call")
	ErrDuplicateToolResult = errors.New("tool call already has a result")
)

// Engine owns one conversation. At most one SendMessage run is active at
// a time; tool results may be submitted concurrently while it waits.
type Engine struct {
	config     Config
	provider   llm.Provider
	compressor *compression.Compressor
	store      storage.ConversationStorage
	fallback   FallbackHandler
	autosave   string
	logger     *zap.Logger
	newID      func() string

	compressionOpts []compression.Option

	mu           sync.Mutex
	history      []model.Message
	sessionID    string
	model        string
	state        State
	active       bool
	sessionTurns int
	usage        llm.TokenUsage
	batch        *toolBatch
}

// Option configures an Engine.
type Option func(*Engine)

// WithCompression passes options to the engine's compressor.
func WithCompression(opts ...compression.Option) Option {
	return func(e *Engine) { e.compressionOpts = append(e.compressionOpts, opts...) }
}

// WithStorage enables checkpoints.
func WithStorage(store storage.ConversationStorage) Option {
	return func(e *Engine) { e.store = store }
}

// WithAutosave saves history under tag after every SendMessage run.
// Requires WithStorage.
func WithAutosave(tag string) Option {
	return func(e *Engine) { e.autosave = tag }
}

// WithFallbackHandler sets the handler consulted on rate limits.
func WithFallbackHandler(h FallbackHandler) Option {
	return func(e *Engine) { e.fallback = h }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine that talks to provider.
func New(config Config, provider llm.Provider, opts ...Option) *Engine {
	e := &Engine{
		config:   config,
		provider: provider,
		logger:   zap.NewNop(),
		newID:    uuid.NewString,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("engine", config.Name))

	e.model = config.Model
	if e.model == "" {
		e.model = provider.Model()
	}
	e.sessionID = e.newID()

	base := []compression.Option{
		compression.WithCurrentModel(e.Model),
		compression.WithLogger(e.logger),
	}
	e.compressor = compression.New(provider, append(base, e.compressionOpts...)...)
	return e
}

// SessionID returns the current backend session handle. Reset replaces it.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Model returns the active model.
func (e *Engine) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Usage returns the token usage summed over the session.
func (e *Engine) Usage() llm.TokenUsage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

// SessionTurns returns how many turns the session has started.
func (e *Engine) SessionTurns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionTurns
}

// GetHistory returns a copy of the history.
func (e *Engine) GetHistory() []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.CloneHistory(e.history)
}

// AddHistory appends msg to the history.
func (e *Engine) AddHistory(msg model.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return apierror.ErrBusy
	}
	e.history = append(e.history, msg.Clone())
	return nil
}

// ResetChat discards the history and starts a new session handle,
// optionally seeded with messages.
func (e *Engine) ResetChat(seed ...model.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return apierror.ErrBusy
	}
	e.resetLocked(seed)
	e.state = StateIdle
	return nil
}

func (e *Engine) resetLocked(seed []model.Message) {
	e.history = model.CloneHistory(seed)
	e.sessionID = e.newID()
	e.logger.Info("chat reset",
		zap.String("session_id", e.sessionID),
		zap.Int("seed_messages", len(seed)))
}

// TryCompressChat compresses the history if it is over the threshold, or
// unconditionally when force is set. A nil result means nothing changed.
func (e *Engine) TryCompressChat(ctx context.Context, force bool) (*compression.Result, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()
	return e.compress(ctx, force)
}

func (e *Engine) compress(ctx context.Context, force bool) (*compression.Result, error) {
	result, err := e.compressor.TryCompress(ctx, e.GetHistory(), e.Model(), force)
	if err != nil || result == nil {
		return nil, err
	}

	e.mu.Lock()
	e.resetLocked(result.History)
	e.mu.Unlock()
	return result, nil
}

func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return apierror.ErrBusy
	}
	e.active = true
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
}

// SendMessage appends a user message and runs turns until the model
// yields, a limit is reached, ctx is cancelled or an error surfaces.
// turnBudget bounds the turns of this call; zero or less uses the
// configured default, and MaxTurns applies regardless.
//
// The returned channel is closed when the run has finished. A second
// call while a run is active fails with apierror.ErrBusy.
func (e *Engine) SendMessage(ctx context.Context, parts []model.Part, turnBudget int) (<-chan Event, error) {
	input := model.Message{Role: model.RoleUser, Parts: parts}.Clone()
	if input.IsEmpty() {
		return nil, ErrEmptyMessage
	}
	if err := e.acquire(); err != nil {
		return nil, err
	}

	q := newEventQueue(ctx)
	go func() {
		defer q.close()
		defer e.release()
		e.run(ctx, input, e.config.turnBudget(turnBudget), q)
		e.save(ctx)
	}()
	return q.out, nil
}

func (e *Engine) run(ctx context.Context, input model.Message, budget int, q *eventQueue) {
	result, err := e.compress(ctx, false)
	if err != nil {
		e.logger.Error("compression check failed", zap.Error(err))
		q.push(Event{Type: EventError, Err: err, Message: err.Error()})
		return
	}
	logger := e.logger.With(zap.String("session_id", e.SessionID()))
	if result != nil {
		logger.Info("chat compressed",
			zap.Int("original_tokens", result.OriginalTokenCount),
			zap.Int("new_tokens", result.NewTokenCount))
		q.push(Event{Type: EventChatCompressed, Compression: &CompressionInfo{
			OriginalTokenCount: result.OriginalTokenCount,
			NewTokenCount:      result.NewTokenCount,
		}})
	}

	pending := input
	for turns := 0; ; turns++ {
		if ctx.Err() != nil {
			e.setState(StateIdle)
			return
		}
		if turns >= budget {
			logger.Info("turn limit reached", zap.Int("turns", turns))
			e.setState(StateMaxTurnsReached)
			return
		}
		if !e.chargeSessionTurn() {
			logger.Info("session turn limit reached", zap.Int("max_session_turns", e.config.MaxSessionTurns))
			e.setState(StateMaxSessionTurnsReached)
			q.push(Event{
				Type:    EventMaxSessionTurns,
				Message: fmt.Sprintf("Reached the session limit of %d turns.", e.config.MaxSessionTurns),
			})
			return
		}

		e.setState(StateStreaming)
		out := e.streamWithFallback(ctx, pending, q)
		if out.err != nil {
			e.setState(StateIdle)
			if ctx.Err() == nil {
				e.surface(logger, out.err, q)
			}
			return
		}
		if out.message.IsEmpty() {
			logger.Warn("empty model response, turn not committed",
				zap.String("finish_reason", out.finishReason))
			e.setState(StateIdle)
			return
		}
		e.commit(pending, out.message)
		pending = model.Message{}

		if calls := out.message.FunctionCalls(); len(calls) > 0 {
			e.setState(StateToolsPending)
			batch := e.openBatch(calls)
			for i := range calls {
				call := calls[i]
				q.push(Event{Type: EventToolCallRequest, ToolCall: &call})
			}
			if err := e.awaitBatch(ctx, batch); err != nil {
				logger.Info("tool wait cancelled", zap.Error(err))
				e.setState(StateIdle)
				return
			}
			continue
		}

		if turns+1 >= budget {
			logger.Info("turn limit reached", zap.Int("turns", turns+1))
			e.setState(StateMaxTurnsReached)
			return
		}
		e.setState(StateCheckingNextSpeaker)
		if e.checkNextSpeaker(ctx) != SpeakerModel {
			e.setState(StateIdle)
			return
		}
		pending = model.UserMessage(continuePrompt)
	}
}

// chargeSessionTurn counts a turn start against the session cap.
func (e *Engine) chargeSessionTurn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.config.MaxSessionTurns > 0 && e.sessionTurns >= e.config.MaxSessionTurns {
		return false
	}
	e.sessionTurns++
	return true
}

// turnResult is the outcome of one streamed turn.
type turnResult struct {
	message      model.Message
	finishReason string
	err          error
	// partial is text forwarded before err ended the turn.
	partial string
}

func (e *Engine) streamWithFallback(ctx context.Context, pending model.Message, q *eventQueue) turnResult {
	out := e.streamTurn(ctx, e.request(pending), q)
	if out.err == nil || ctx.Err() != nil {
		return out
	}
	if !e.switchModel(ctx, out.err, out.partial, q) {
		return out
	}
	e.setState(StateStreaming)
	return e.streamTurn(ctx, e.request(pending), q)
}

func (e *Engine) request(pending model.Message) llm.GenerationRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return llm.GenerationRequest{
		Model:             e.model,
		History:           model.CloneHistory(e.history),
		NewMessage:        pending.Clone(),
		SystemInstruction: e.config.SystemPrompt,
		Tools:             e.config.Tools,
		Sampling:          e.config.Sampling,
	}
}

// streamTurn consumes one backend stream. Text and usage are forwarded as
// they arrive; the model message is only assembled once the backend
// signals completion.
func (e *Engine) streamTurn(ctx context.Context, req llm.GenerationRequest, q *eventQueue) turnResult {
	events, err := e.provider.GenerateStream(ctx, req)
	if err != nil {
		return turnResult{err: err}
	}

	var text strings.Builder
	var calls []model.FunctionCall
	seen := make(map[string]bool)
	done := false
	finish := ""

	for ev := range events {
		switch ev.Type {
		case llm.EventTextDelta:
			text.WriteString(ev.Text)
			q.push(Event{Type: EventContent, Text: ev.Text})
		case llm.EventFunctionCall:
			if ev.FunctionCall == nil {
				continue
			}
			call := *ev.FunctionCall
			if call.ID == "" || seen[call.ID] {
				call.ID = e.newID()
			}
			if call.Args == nil {
				call.Args = map[string]any{}
			}
			seen[call.ID] = true
			calls = append(calls, call)
		case llm.EventUsage:
			if ev.Usage == nil {
				continue
			}
			usage := *ev.Usage
			e.mu.Lock()
			e.usage.Add(usage)
			e.mu.Unlock()
			q.push(Event{Type: EventUsage, Usage: &usage})
		case llm.EventError:
			for range events {
			}
			return turnResult{err: ev.Err, partial: text.String()}
		case llm.EventDone:
			done = true
			finish = ev.FinishReason
		}
	}

	if err := ctx.Err(); err != nil {
		return turnResult{err: err}
	}
	if !done {
		return turnResult{err: fmt.Errorf("%w: stream ended before completion", apierror.ErrMalformedResponse)}
	}

	msg := model.Message{Role: model.RoleModel}
	if text.Len() > 0 {
		msg.Parts = append(msg.Parts, model.TextPart(text.String()))
	}
	for _, call := range calls {
		msg.Parts = append(msg.Parts, model.FunctionCallPart(call))
	}
	return turnResult{message: msg, finishReason: finish}
}

// switchModel consults the fallback handler after a rate limit and
// reports whether the turn should be retried.
func (e *Engine) switchModel(ctx context.Context, err error, partial string, q *eventQueue) bool {
	c := apierror.Classify(err)
	if !c.IsRateLimit() || e.fallback == nil {
		return false
	}
	current := e.Model()
	target := e.config.FallbackModel
	if target == "" || target == current {
		return false
	}

	message := apierror.RateLimitMessage(c, e.config.Audience, current, target)
	decision := e.fallback(ctx, FallbackRequest{
		CurrentModel:   current,
		FallbackModel:  target,
		Err:            err,
		Classification: c,
		Message:        message,
	})
	if !decision.Accepted || ctx.Err() != nil {
		e.logger.Info("model fallback declined",
			zap.String("model", current),
			zap.String("fallback_model", target))
		return false
	}
	if decision.NewModel != "" {
		target = decision.NewModel
	}

	e.mu.Lock()
	e.model = target
	e.mu.Unlock()

	e.logger.Info("model fallback",
		zap.String("from", current),
		zap.String("to", target),
		zap.Stringer("quota", c.Quota))
	q.push(Event{
		Type:     EventModelFallback,
		Fallback: &ModelSwitch{From: current, To: target, Discarded: partial},
		Message:  message,
	})
	return true
}

// surface reports an unrecoverable turn failure to the caller.
func (e *Engine) surface(logger *zap.Logger, err error, q *eventQueue) {
	current := e.Model()
	// Any switch already happened before the retry, so none is announced here.
	message := apierror.Describe(err, e.config.Audience, current, "")
	logger.Error("turn failed",
		zap.String("model", current),
		zap.Error(err))
	q.push(Event{Type: EventError, Err: err, Message: message})
}

// commit appends the user input (if any) and the model reply together,
// so an abandoned turn leaves no trace in history.
func (e *Engine) commit(input, reply model.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !input.IsEmpty() {
		e.history = append(e.history, input)
	}
	e.history = append(e.history, reply)
}

func (e *Engine) setState(to State) {
	e.mu.Lock()
	from := e.state
	ok := canTransition(from, to)
	e.state = to
	e.mu.Unlock()

	if !ok {
		e.logger.DPanic("invalid state transition",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		return
	}
	e.logger.Debug("state transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

func (e *Engine) save(ctx context.Context) {
	if e.store == nil || e.autosave == "" {
		return
	}
	if err := e.store.Save(context.WithoutCancel(ctx), e.autosave, e.GetHistory()); err != nil {
		e.logger.Warn("autosave failed",
			zap.String("tag", e.autosave),
			zap.Error(err))
	}
}
