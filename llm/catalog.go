// Model catalog: identifiers, context window sizes and fallback pairs.

package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/richinex/threadline/apierror"
)

// OpenAI model identifiers (January 2026)
const (
	// ModelOpenAIGPT52 is GPT-5.2: Latest flagship model (December 2025).
	ModelOpenAIGPT52 = "gpt-5.2"
	// ModelOpenAIGPT52Codex is GPT-5.2-Codex: Agentic coding specialist.
	ModelOpenAIGPT52Codex = "gpt-5.2-codex"
	// ModelOpenAIGPT5 is GPT-5: Previous flagship (August 2025).
	ModelOpenAIGPT5 = "gpt-5"
	// ModelOpenAIO3Mini is O3-mini: Efficient reasoning model.
	ModelOpenAIO3Mini = "o3-mini"
	// ModelOpenAIGPT4o is GPT-4o: Legacy model.
	ModelOpenAIGPT4o = "gpt-4o"
	// ModelOpenAIGPT4oMini is GPT-4o-mini: Legacy model.
	ModelOpenAIGPT4oMini = "gpt-4o-mini"
)

// Anthropic model identifiers (January 2026)
const (
	// ModelAnthropicClaudeOpus45 is Claude Opus 4.5: Latest flagship, best for coding/agents.
	ModelAnthropicClaudeOpus45 = "claude-opus-4-5-20251101"
	// ModelAnthropicClaudeSonnet4 is Claude Sonnet 4: Balanced performance.
	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"
	// ModelAnthropicClaudeHaiku4 is Claude Haiku 4: Fast and efficient.
	ModelAnthropicClaudeHaiku4 = "claude-haiku-4-20250514"
)

// DeepSeek model identifiers (January 2026)
const (
	// ModelDeepSeekV32 is V3.2: Latest general model.
	ModelDeepSeekV32 = "deepseek-v3.2"
	// ModelDeepSeekChat is the stable chat alias.
	ModelDeepSeekChat = "deepseek-chat"
	// ModelDeepSeekReasoner is the reasoning alias.
	ModelDeepSeekReasoner = "deepseek-reasoner"
)

// Gemini model identifiers (January 2026)
const (
	// ModelGeminiPro3 is Gemini 3 Pro: Advanced reasoning, 1M context window.
	ModelGeminiPro3 = "gemini-3-pro"
	// ModelGeminiFlash3 is Gemini 3 Flash: Speed optimized.
	ModelGeminiFlash3 = "gemini-3-flash"
	// ModelGeminiPro25 is Gemini 2.5 Pro.
	ModelGeminiPro25 = "gemini-2.5-pro"
	// ModelGeminiFlash25 is Gemini 2.5 Flash.
	ModelGeminiFlash25 = "gemini-2.5-flash"
	// ModelGeminiFlashLite25 is Gemini 2.5 Flash-Lite.
	ModelGeminiFlashLite25 = "gemini-2.5-flash-lite"
	// ModelGeminiFlash2 is Gemini 2.0 Flash: Legacy model.
	ModelGeminiFlash2 = "gemini-2.0-flash"
)

// Embedding model defaults per backend.
const (
	DefaultGeminiEmbeddingModel = "gemini-embedding-001"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

// contextLimits maps model ids (or id prefixes) to context window sizes
// in tokens.
var contextLimits = map[string]int{
	ModelOpenAIGPT52:            400_000,
	ModelOpenAIGPT52Codex:       400_000,
	ModelOpenAIGPT5:             400_000,
	ModelOpenAIO3Mini:           200_000,
	ModelOpenAIGPT4o:            128_000,
	ModelOpenAIGPT4oMini:        128_000,
	ModelAnthropicClaudeOpus45:  200_000,
	ModelAnthropicClaudeSonnet4: 200_000,
	ModelAnthropicClaudeHaiku4:  200_000,
	ModelDeepSeekV32:            128_000,
	ModelDeepSeekChat:           128_000,
	ModelDeepSeekReasoner:       128_000,
	ModelGeminiPro3:             1_048_576,
	ModelGeminiFlash3:           1_048_576,
	ModelGeminiPro25:            1_048_576,
	ModelGeminiFlash25:          1_048_576,
	ModelGeminiFlashLite25:      1_048_576,
	ModelGeminiFlash2:           1_048_576,
}

// ContextLimit returns the context window of modelID. Dated or suffixed
// variants (e.g. "gpt-4o-2024-08-06") resolve to their longest known
// prefix. Unknown models return an error wrapping apierror.ErrUnknownModel.
func ContextLimit(modelID string) (int, error) {
	if limit, ok := contextLimits[modelID]; ok {
		return limit, nil
	}

	best := ""
	for known := range contextLimits {
		if strings.HasPrefix(modelID, known) && len(known) > len(best) {
			best = known
		}
	}
	if best != "" {
		return contextLimits[best], nil
	}
	return 0, fmt.Errorf("%w: %q", apierror.ErrUnknownModel, modelID)
}

// KnownModels returns all catalogued model ids in sorted order.
func KnownModels() []string {
	ids := make([]string, 0, len(contextLimits))
	for id := range contextLimits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
