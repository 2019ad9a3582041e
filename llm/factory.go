// LLM Provider Factory - Ergonomic builder-first API for creating LLM providers.
//
// Quick Start:
//
//	// Simplest: use defaults, read API key from environment
//	gemini, err := llm.ProviderGemini.FromEnv()
//
//	// With custom model
//	gpt, err := llm.ProviderOpenAI.Model(llm.ModelOpenAIGPT52Codex).FromEnv()
//
//	// Full configuration
//	custom, err := llm.ProviderAnthropic.
//	    Model(llm.ModelAnthropicClaudeSonnet4).
//	    MaxTokens(8192).
//	    Temperature(0.3).
//	    Timeout(2 * time.Minute).
//	    FromEnv()
//
//	// By backend id, as read from configuration
//	provider, err := llm.NewProvider("deepseek", llm.ProviderConfig{APIKey: key})

package llm

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProviderType represents supported LLM providers.
type ProviderType int

const (
	// ProviderOpenAI is the OpenAI provider (GPT models).
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic provider (Claude models).
	ProviderAnthropic
	// ProviderDeepSeek is the DeepSeek provider.
	ProviderDeepSeek
	// ProviderGemini is the Google Gemini provider.
	ProviderGemini
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// EnvVar returns the environment variable name for this provider's API key.
func (p ProviderType) EnvVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// DefaultModel returns the default model for this provider.
func (p ProviderType) DefaultModel() string {
	switch p {
	case ProviderOpenAI:
		return ModelOpenAIGPT52
	case ProviderAnthropic:
		return ModelAnthropicClaudeOpus45
	case ProviderDeepSeek:
		return ModelDeepSeekChat
	case ProviderGemini:
		return ModelGeminiPro25
	default:
		return ""
	}
}

// DefaultFallbackModel returns the smaller model used when the default
// model's quota is exhausted.
func (p ProviderType) DefaultFallbackModel() string {
	switch p {
	case ProviderOpenAI:
		return ModelOpenAIGPT4oMini
	case ProviderAnthropic:
		return ModelAnthropicClaudeHaiku4
	case ProviderDeepSeek:
		return ModelDeepSeekV32
	case ProviderGemini:
		return ModelGeminiFlash25
	default:
		return ""
	}
}

// ParseProviderType parses a provider from string (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(s) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// ProviderConfig holds everything an adapter constructor needs.
type ProviderConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	BaseURL        string
	Timeout        time.Duration
	Sampling       SamplingParams
	// Enterprise selects the cloud-project backend where one exists
	// (Vertex AI for Gemini).
	Enterprise bool
	Project    string
	Location   string
	Logger     *zap.Logger
}

func (c ProviderConfig) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// constructors is the backend registry keyed by provider type.
var constructors = map[ProviderType]func(ProviderConfig) Provider{
	ProviderOpenAI:    func(c ProviderConfig) Provider { return NewOpenAIProvider(c) },
	ProviderAnthropic: func(c ProviderConfig) Provider { return NewAnthropicProvider(c) },
	ProviderDeepSeek:  func(c ProviderConfig) Provider { return NewDeepSeekProvider(c) },
	ProviderGemini:    func(c ProviderConfig) Provider { return NewGeminiProvider(c) },
}

// NewProvider creates the adapter registered for backend id.
func NewProvider(id string, cfg ProviderConfig) (Provider, error) {
	pt, err := ParseProviderType(id)
	if err != nil {
		return nil, err
	}
	ctor, ok := constructors[pt]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %v", pt)
	}
	if cfg.Model == "" {
		cfg.Model = pt.DefaultModel()
	}
	return ctor(cfg), nil
}

// FromEnv creates a provider with defaults, reading API key from environment.
func (p ProviderType) FromEnv() (Provider, error) {
	return NewProviderBuilder(p).FromEnv()
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// APIKey creates a provider with an explicit API key (uses defaults for everything else).
func (p ProviderType) APIKey(key string) (Provider, error) {
	return NewProviderBuilder(p).APIKey(key)
}

// ProviderBuilder is a builder for configuring LLM providers.
type ProviderBuilder struct {
	providerType ProviderType
	cfg          ProviderConfig
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
	}
}

// Model sets the model to use.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.cfg.Model = model
	return b
}

// MaxTokens sets maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens int32) *ProviderBuilder {
	b.cfg.Sampling.MaxTokens = tokens
	return b
}

// Temperature sets temperature (0.0 = deterministic, 1.0 = creative).
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.cfg.Sampling.Temperature = &temp
	return b
}

// TopP sets nucleus sampling.
func (b *ProviderBuilder) TopP(p float32) *ProviderBuilder {
	b.cfg.Sampling.TopP = &p
	return b
}

// TopK sets top-k sampling.
func (b *ProviderBuilder) TopK(k int32) *ProviderBuilder {
	b.cfg.Sampling.TopK = &k
	return b
}

// BaseURL points the adapter at a compatible endpoint.
func (b *ProviderBuilder) BaseURL(url string) *ProviderBuilder {
	b.cfg.BaseURL = url
	return b
}

// Timeout sets the per-request timeout.
func (b *ProviderBuilder) Timeout(d time.Duration) *ProviderBuilder {
	b.cfg.Timeout = d
	return b
}

// Enterprise selects the cloud-project backend for the given project.
func (b *ProviderBuilder) Enterprise(project, location string) *ProviderBuilder {
	b.cfg.Enterprise = true
	b.cfg.Project = project
	b.cfg.Location = location
	return b
}

// Logger sets the adapter's logger.
func (b *ProviderBuilder) Logger(logger *zap.Logger) *ProviderBuilder {
	b.cfg.Logger = logger
	return b
}

// FromEnv builds the provider, reading API key from environment.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	envVar := b.providerType.EnvVar()
	apiKey := os.Getenv(envVar)
	if apiKey == "" && !b.cfg.Enterprise {
		return nil, fmt.Errorf("%s: %s environment variable not set", b.providerType, envVar)
	}
	return b.build(apiKey)
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	return b.build(key)
}

func (b *ProviderBuilder) build(apiKey string) (Provider, error) {
	cfg := b.cfg
	cfg.APIKey = apiKey

	if cfg.Sampling.MaxTokens == 0 {
		cfg.Sampling.MaxTokens = 8192
	}
	if cfg.Sampling.Temperature == nil {
		temperature := float32(0.7) // default
		cfg.Sampling.Temperature = &temperature
	}

	return NewProvider(b.providerType.String(), cfg)
}
