// DeepSeek Provider implementation using go-openai library.
//
// Information Hiding:
// - Uses OpenAI-compatible API with different base URL
// - Supports deepseek-chat and deepseek-reasoner models
// - No embeddings endpoint

package llm

import (
	"context"
	"fmt"

	"github.com/richinex/threadline/apierror"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekProvider implements the Provider interface for DeepSeek.
// Chat traffic goes through the OpenAI-compatible adapter.
type DeepSeekProvider struct {
	*OpenAIProvider
}

// NewDeepSeekProvider creates a new DeepSeek provider.
func NewDeepSeekProvider(cfg ProviderConfig) *DeepSeekProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = deepseekBaseURL
	}
	return &DeepSeekProvider{OpenAIProvider: newOpenAICompatible("deepseek", cfg)}
}

// Embed is not offered by DeepSeek.
func (p *DeepSeekProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("deepseek embeddings: %w", apierror.ErrUnsupported)
}

// Verify DeepSeekProvider implements Provider
var _ Provider = (*DeepSeekProvider)(nil)
