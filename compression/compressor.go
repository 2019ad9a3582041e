// Package compression summarizes old conversation history before the
// backend's context window fills up.
//
// Information Hiding:
// - Trigger threshold and split fraction
// - Split point selection that never separates a call from its response
// - Summarization prompt and summary message shape
package compression

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/richinex/threadline/llm"
	"github.com/richinex/threadline/model"
)

// Defaults for the trigger threshold and the share of history kept verbatim.
const (
	DefaultThreshold        = 0.7
	DefaultPreserveFraction = 0.3
)

// summaryPrompt instructs the backend how to condense the prefix.
const summaryPrompt = `You are compressing the earlier part of a conversation between a user and a coding agent so that it can continue in a smaller context window.

Write a dense summary that preserves:
- the user's overall goal and any explicit constraints or preferences
- decisions made and the reasons given for them
- files, functions, commands and identifiers that were touched or discussed
- tool calls that were made and what their results established
- open questions and the next steps that were planned

Do not invent details. Write plain prose and short lists, no preamble.`

// summaryHeader prefixes the summary message kept in history.
const summaryHeader = "[Summary of earlier conversation]\n"

// summaryAck follows the summary when the kept history starts with a
// user turn, so roles keep alternating.
const summaryAck = "Got it. Thanks for the additional context!"

// Result reports a completed compression.
type Result struct {
	OriginalTokenCount int
	NewTokenCount      int
	// History is the compressed history: the summary followed by the
	// preserved suffix.
	History []model.Message
}

// Compressor decides whether and where to summarize history.
type Compressor struct {
	provider         llm.Provider
	threshold        float64
	preserveFraction float64
	limit            func(modelID string) (int, error)
	currentModel     func() string
	logger           *zap.Logger
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithThreshold sets the fraction of the context limit that triggers
// compression.
func WithThreshold(f float64) Option {
	return func(c *Compressor) { c.threshold = f }
}

// WithPreserveFraction sets the share of serialized history, counted from
// the newest message, that is kept verbatim.
func WithPreserveFraction(f float64) Option {
	return func(c *Compressor) { c.preserveFraction = f }
}

// WithContextLimit overrides the model catalog lookup.
func WithContextLimit(limit func(modelID string) (int, error)) Option {
	return func(c *Compressor) { c.limit = limit }
}

// WithCurrentModel supplies the model used for the post-compression
// token count. The active model may change between the two counts.
func WithCurrentModel(current func() string) Option {
	return func(c *Compressor) { c.currentModel = current }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Compressor) { c.logger = logger }
}

// New creates a compressor that counts and summarizes through provider.
func New(provider llm.Provider, opts ...Option) *Compressor {
	c := &Compressor{
		provider:         provider,
		threshold:        DefaultThreshold,
		preserveFraction: DefaultPreserveFraction,
		limit:            llm.ContextLimit,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "compressor"))
	return c
}

// TryCompress summarizes the oldest part of history when its token count
// reaches the threshold, or unconditionally when force is set. It returns
// nil when nothing was compressed, including when summarization failed.
// The only error is an unknown model, which is a configuration fault.
func (c *Compressor) TryCompress(ctx context.Context, history []model.Message, modelID string, force bool) (*Result, error) {
	if len(history) == 0 {
		return nil, nil
	}

	limit, err := c.limit(modelID)
	if err != nil {
		return nil, fmt.Errorf("context limit: %w", err)
	}

	original, estimated := llm.CountOrEstimate(ctx, c.provider, history, modelID, c.logger)
	if !force {
		if estimated {
			c.logger.Debug("compression check skipped without a token count", zap.String("model", modelID))
			return nil, nil
		}
		if original < c.triggerTokens(limit) {
			return nil, nil
		}
	}

	idx := SplitIndex(history, c.preserveFraction)
	if idx <= 0 {
		c.logger.Debug("no compressible prefix", zap.Int("messages", len(history)))
		return nil, nil
	}

	summary, err := c.summarize(ctx, history[:idx], modelID)
	if err != nil {
		c.logger.Warn("compression skipped", zap.Error(err))
		return nil, nil
	}

	newHistory := make([]model.Message, 0, len(history)-idx+2)
	newHistory = append(newHistory, summary)
	if history[idx].Role != model.RoleModel {
		newHistory = append(newHistory, model.ModelMessage(model.TextPart(summaryAck)))
	}
	newHistory = append(newHistory, model.CloneHistory(history[idx:])...)

	current := modelID
	if c.currentModel != nil {
		if m := c.currentModel(); m != "" {
			current = m
		}
	}
	newCount, _ := llm.CountOrEstimate(ctx, c.provider, newHistory, current, c.logger)

	c.logger.Info("history compressed",
		zap.Int("original_tokens", original),
		zap.Int("new_tokens", newCount),
		zap.Int("summarized_messages", idx),
		zap.String("model", current))

	return &Result{
		OriginalTokenCount: original,
		NewTokenCount:      newCount,
		History:            newHistory,
	}, nil
}

// triggerTokens is the smallest token count that reaches the threshold.
func (c *Compressor) triggerTokens(limit int) int {
	return int(math.Ceil(c.threshold*float64(limit) - 1e-9))
}

func (c *Compressor) summarize(ctx context.Context, prefix []model.Message, modelID string) (model.Message, error) {
	resp, err := c.provider.Generate(ctx, llm.GenerationRequest{
		Model:             modelID,
		History:           model.CloneHistory(prefix),
		NewMessage:        model.UserMessage("Summarize the conversation so far."),
		SystemInstruction: summaryPrompt,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("summarize: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return model.Message{}, fmt.Errorf("summarize: empty summary")
	}
	return model.UserMessage(summaryHeader + text), nil
}

// SplitIndex picks where to cut history so that the messages before the
// index hold (1 - preserveFraction) of its serialized size. The index
// moves backward while it would separate a function call from its
// response. Zero means there is nothing to compress.
func SplitIndex(history []model.Message, preserveFraction float64) int {
	if len(history) < 2 {
		return 0
	}
	if preserveFraction < 0 {
		preserveFraction = 0
	}
	if preserveFraction > 1 {
		preserveFraction = 1
	}

	sizes := make([]int, len(history))
	total := 0
	for i, msg := range history {
		sizes[i] = msg.SerializedSize()
		total += sizes[i]
	}
	target := (1 - preserveFraction) * float64(total)

	idx := len(history)
	running := 0
	for i, size := range sizes {
		running += size
		if float64(running) >= target {
			idx = i + 1
			break
		}
	}
	// Keep at least the newest message verbatim.
	if idx >= len(history) {
		idx = len(history) - 1
	}

	for idx > 0 && model.SplitsPair(history, idx) {
		idx--
	}
	return idx
}
