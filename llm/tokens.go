// Token accounting helpers.
//
// Information Hiding:
// - tiktoken encoding selection and lazy loading
// - the character-based fallback estimator
// - splitting of combined usage counts

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/model"
)

// Estimator weights, in tokens per character.
const (
	cjkTokensPerChar   = 0.75
	otherTokensPerChar = 0.25
)

// EstimateTokens approximates the token count of text: 0.75 token per
// CJK code point and 0.25 per other character, rounded up.
// Only for estimates and telemetry.
func EstimateTokens(text string) int {
	var total float64
	for _, r := range text {
		if isCJK(r) {
			total += cjkTokensPerChar
		} else {
			total += otherTokensPerChar
		}
	}
	return int(math.Ceil(total))
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) || // Halfwidth and Fullwidth Forms
		(r >= 0x3040 && r <= 0x30FF) || // Hiragana and Katakana
		(r >= 0xAC00 && r <= 0xD7AF) // Hangul Syllables
}

// EstimateHistoryTokens applies EstimateTokens to the textual content of
// a history, including serialized function call arguments and results.
func EstimateHistoryTokens(history []model.Message) int {
	return EstimateTokens(historyText(history))
}

func historyText(history []model.Message) string {
	var sb strings.Builder
	for _, msg := range history {
		for _, p := range msg.Parts {
			switch {
			case p.FunctionCall != nil:
				sb.WriteString(p.FunctionCall.Name)
				if data, err := json.Marshal(p.FunctionCall.Args); err == nil {
					sb.Write(data)
				}
			case p.FunctionResponse != nil:
				sb.WriteString(p.FunctionResponse.Name)
				if data, err := json.Marshal(p.FunctionResponse.Result); err == nil {
					sb.Write(data)
				}
			default:
				sb.WriteString(p.Text)
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// SplitCombinedUsage turns a combined token count into an estimated
// 70% prompt / 30% completion split.
func SplitCombinedUsage(total uint32) TokenUsage {
	prompt := uint32(float64(total) * 0.7)
	return TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: total - prompt,
		TotalTokens:      total,
		Estimated:        true,
	}
}

// normalizeUsage fills in prompt/completion when a backend only reports
// a total.
func normalizeUsage(prompt, completion, total uint32) *TokenUsage {
	if prompt == 0 && completion == 0 && total == 0 {
		return nil
	}
	if prompt == 0 && completion == 0 {
		u := SplitCombinedUsage(total)
		return &u
	}
	if total == 0 {
		total = prompt + completion
	}
	return &TokenUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

// CountOrEstimate asks the provider for a token count and falls back to
// the heuristic when the count is unavailable. The second return value
// reports whether the heuristic was used.
func CountOrEstimate(ctx context.Context, p Provider, history []model.Message, modelID string, logger *zap.Logger) (int, bool) {
	n, err := p.CountTokens(ctx, history, modelID)
	if err == nil {
		return n, false
	}
	if logger != nil {
		logger.Warn("token count unavailable, using estimate",
			zap.String("backend", p.Name()),
			zap.String("model", modelID),
			zap.Error(err))
	}
	return EstimateHistoryTokens(history), true
}

// tiktokenCounter counts chat tokens locally for OpenAI-style models.
// The encoding is loaded on first use and may need network access.
type tiktokenCounter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

func newTiktokenCounter() *tiktokenCounter {
	return &tiktokenCounter{encoders: make(map[string]*tiktoken.Tiktoken)}
}

func (c *tiktokenCounter) encoder(modelID string) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[modelID]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding(encodingFor(modelID))
		if err != nil {
			return nil, fmt.Errorf("load tiktoken encoding for %s: %w", modelID, err)
		}
	}
	c.encoders[modelID] = enc
	return enc, nil
}

// encodingFor picks an encoding for models tiktoken does not know.
func encodingFor(modelID string) string {
	if strings.HasPrefix(modelID, "gpt-4o") || strings.HasPrefix(modelID, "gpt-5") ||
		strings.HasPrefix(modelID, "o1") || strings.HasPrefix(modelID, "o3") {
		return "o200k_base"
	}
	return "cl100k_base"
}

// Per-message framing overhead used by OpenAI chat models.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// count returns the prompt tokens for a list of chat messages.
func (c *tiktokenCounter) count(modelID string, messages []ChatMessage) (int, error) {
	enc, err := c.encoder(modelID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apierror.ErrTokenCountUnavailable, err)
	}

	total := tokensPerReply
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(enc.Encode(msg.Role, nil, nil))
		total += len(enc.Encode(msg.Content, nil, nil))
		for _, tc := range msg.ToolCalls {
			total += len(enc.Encode(tc.Name, nil, nil))
			total += len(enc.Encode(string(tc.Arguments), nil, nil))
		}
	}
	return total, nil
}
