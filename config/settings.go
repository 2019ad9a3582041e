// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/richinex/threadline/agent"
	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/compression"
	"github.com/richinex/threadline/llm"
)

// DefaultProvider is used when neither the caller nor LLM_PROVIDER names one.
const DefaultProvider = "gemini"

// Settings holds all application configuration.
type Settings struct {
	LLM         LLMConfig
	Engine      EngineConfig
	Compression CompressionConfig
	Storage     StorageConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider      string
	Model         string
	FallbackModel string
	MaxTokens     uint32
	Temperature   float64
	// TopP and TopK are left to the backend when zero.
	TopP    float64
	TopK    int
	Timeout time.Duration
	// ContextLimit overrides the model catalog when positive.
	ContextLimit int
	// Project and Location select the cloud project for enterprise auth.
	Project  string
	Location string
}

// EngineConfig holds conversation engine limits and the rate limit audience.
type EngineConfig struct {
	MaxTurns        int
	MaxSessionTurns int
	Auth            apierror.AuthType
	Tier            apierror.Tier
}

// CompressionConfig holds history compression tuning.
type CompressionConfig struct {
	Threshold        float64
	PreserveFraction float64
}

// StorageConfig holds checkpoint persistence configuration.
type StorageConfig struct {
	// DBPath is the SQLite file for checkpoints. Empty keeps them in memory.
	DBPath string
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	kind        llm.ProviderType
	modelEnv    string
	fallbackEnv string
	apiKeyEnv   string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {llm.ProviderOpenAI, "OPENAI_MODEL", "OPENAI_FALLBACK_MODEL", "OPENAI_API_KEY"},
	"anthropic": {llm.ProviderAnthropic, "ANTHROPIC_MODEL", "ANTHROPIC_FALLBACK_MODEL", "ANTHROPIC_API_KEY"},
	"deepseek":  {llm.ProviderDeepSeek, "DEEPSEEK_MODEL", "DEEPSEEK_FALLBACK_MODEL", "DEEPSEEK_API_KEY"},
	"gemini":    {llm.ProviderGemini, "GEMINI_MODEL", "GEMINI_FALLBACK_MODEL", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// New creates settings for the specified provider, loading values from environment variables.
// An empty provider falls back to LLM_PROVIDER and then DefaultProvider.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if provider == "" {
		provider = DefaultProvider
	}
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", 8192)
	collect(err)
	temperature, err := getEnvFloat64("LLM_TEMPERATURE", 0.7)
	collect(err)
	topP, err := getEnvFloat64("LLM_TOP_P", 0)
	collect(err)
	topK, err := getEnvInt("LLM_TOP_K", 0)
	collect(err)
	timeoutSecs, err := getEnvInt("LLM_TIMEOUT_SECS", 120)
	collect(err)
	contextLimit, err := getEnvInt("LLM_CONTEXT_LIMIT", 0)
	collect(err)
	threshold, err := getEnvFloat64("COMPRESSION_THRESHOLD", compression.DefaultThreshold)
	collect(err)
	preserve, err := getEnvFloat64("COMPRESSION_PRESERVE_FRACTION", compression.DefaultPreserveFraction)
	collect(err)
	maxTurns, err := getEnvInt("AGENT_MAX_TURNS", agent.MaxTurns)
	collect(err)
	maxSessionTurns, err := getEnvInt("AGENT_MAX_SESSION_TURNS", -1)
	collect(err)
	auth, err := apierror.ParseAuthType(os.Getenv("AUTH_TYPE"))
	if err != nil {
		collect(fmt.Errorf("invalid value for AUTH_TYPE: %w", err))
	}
	if len(errs) > 0 {
		return Settings{}, errors.Join(errs...)
	}

	// Get model from environment or use default
	model := getEnvString(info.modelEnv, info.kind.DefaultModel())
	fallback := getEnvString(info.fallbackEnv, info.kind.DefaultFallbackModel())

	return Settings{
		LLM: LLMConfig{
			Provider:      provider,
			Model:         model,
			FallbackModel: fallback,
			MaxTokens:     maxTokens,
			Temperature:   temperature,
			TopP:          topP,
			TopK:          topK,
			Timeout:       time.Duration(timeoutSecs) * time.Second,
			ContextLimit:  contextLimit,
			Project:       os.Getenv("GOOGLE_CLOUD_PROJECT"),
			Location:      getEnvString("GOOGLE_CLOUD_LOCATION", "us-central1"),
		},
		Engine: EngineConfig{
			MaxTurns:        maxTurns,
			MaxSessionTurns: maxSessionTurns,
			Auth:            auth,
			Tier:            apierror.ParseTier(os.Getenv("USER_TIER")),
		},
		Compression: CompressionConfig{
			Threshold:        threshold,
			PreserveFraction: preserve,
		},
		Storage: StorageConfig{
			DBPath: os.Getenv("THREADLINE_DB_PATH"),
		},
	}, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Validate rejects settings the engine cannot run with. Flag overrides
// are applied before calling it.
func (s Settings) Validate() error {
	var errs []error
	if s.LLM.Model == "" {
		errs = append(errs, errors.New("no model configured"))
	} else if s.LLM.ContextLimit <= 0 {
		if _, err := llm.ContextLimit(s.LLM.Model); err != nil {
			errs = append(errs, fmt.Errorf("%w (set LLM_CONTEXT_LIMIT for uncatalogued models)", err))
		}
	}
	if s.LLM.FallbackModel != "" && s.LLM.FallbackModel == s.LLM.Model {
		errs = append(errs, fmt.Errorf("fallback model %q equals the primary model", s.LLM.Model))
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %v out of range [0, 2]", s.LLM.Temperature))
	}
	if s.LLM.TopP < 0 || s.LLM.TopP > 1 {
		errs = append(errs, fmt.Errorf("top-p %v out of range [0, 1]", s.LLM.TopP))
	}
	if s.LLM.Timeout < 0 {
		errs = append(errs, fmt.Errorf("negative timeout %v", s.LLM.Timeout))
	}
	if s.Compression.Threshold <= 0 || s.Compression.Threshold > 1 {
		errs = append(errs, fmt.Errorf("compression threshold %v out of range (0, 1]", s.Compression.Threshold))
	}
	if s.Compression.PreserveFraction < 0 || s.Compression.PreserveFraction >= 1 {
		errs = append(errs, fmt.Errorf("compression preserve fraction %v out of range [0, 1)", s.Compression.PreserveFraction))
	}
	return errors.Join(errs...)
}

// ContextLimit returns the context window lookup for the compressor,
// honoring the LLM_CONTEXT_LIMIT override.
func (s Settings) ContextLimit() func(modelID string) (int, error) {
	if s.LLM.ContextLimit > 0 {
		limit := s.LLM.ContextLimit
		return func(string) (int, error) { return limit, nil }
	}
	return llm.ContextLimit
}

// Sampling converts the LLM settings into request sampling parameters.
func (s Settings) Sampling() llm.SamplingParams {
	temperature := float32(s.LLM.Temperature)
	params := llm.SamplingParams{
		MaxTokens:   int32(s.LLM.MaxTokens),
		Temperature: &temperature,
	}
	if s.LLM.TopP > 0 {
		topP := float32(s.LLM.TopP)
		params.TopP = &topP
	}
	if s.LLM.TopK > 0 {
		topK := int32(s.LLM.TopK)
		params.TopK = &topK
	}
	return params
}

// Audience returns who rate limit messages are written for.
func (s Settings) Audience() apierror.Audience {
	return apierror.Audience{Auth: s.Engine.Auth, Tier: s.Engine.Tier}
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}
	return getEnvString(info.modelEnv, info.kind.DefaultModel()), nil
}

// SupportedProviders returns the supported provider names in sorted order.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}
