// Engine configuration types.
//
// Information Hiding:
// - Configuration validation logic hidden
// - Default values hidden

package agent

import (
	"errors"
	"fmt"

	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/llm"
)

// MaxTurns bounds the automatic turns one SendMessage may start,
// whatever budget the caller asks for.
const MaxTurns = 100

// Config holds engine configuration.
type Config struct {
	// Name identifies the engine in logs.
	Name string

	// SystemPrompt is sent as the system instruction of every request.
	SystemPrompt string

	// Tools declares the functions the model may call.
	Tools []llm.ToolDefinition

	// Model is the initial model id. Empty uses the provider default.
	Model string

	// FallbackModel is offered to the fallback handler on rate limits.
	FallbackModel string

	// Sampling is forwarded with every request.
	Sampling llm.SamplingParams

	// MaxTurns is the default SendMessage budget, clamped to the MaxTurns constant.
	MaxTurns int

	// MaxSessionTurns caps turns across the whole session. Zero or less is unlimited.
	MaxSessionTurns int

	// Audience selects the rate limit copy shown to the user.
	Audience apierror.Audience
}

// DefaultConfig returns a basic engine configuration.
func DefaultConfig() Config {
	return Config{
		Name:            "threadline",
		SystemPrompt:    "You are a helpful coding assistant.",
		MaxTurns:        MaxTurns,
		MaxSessionTurns: -1,
		Audience:        apierror.Audience{Auth: apierror.AuthAPIKey},
	}
}

// HasTools returns true if tools are configured.
func (c *Config) HasTools() bool {
	return len(c.Tools) > 0
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	var errs []error
	if c.FallbackModel != "" && c.FallbackModel == c.Model {
		errs = append(errs, fmt.Errorf("fallback model %q equals the primary model", c.FallbackModel))
	}
	seen := make(map[string]bool, len(c.Tools))
	for _, t := range c.Tools {
		if t.Name == "" {
			errs = append(errs, errors.New("tool declaration without a name"))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tool %q declared twice", t.Name))
		}
		seen[t.Name] = true
	}
	return errors.Join(errs...)
}

// turnBudget resolves the budget for one SendMessage call.
func (c *Config) turnBudget(requested int) int {
	budget := requested
	if budget <= 0 {
		budget = c.MaxTurns
	}
	if budget <= 0 || budget > MaxTurns {
		budget = MaxTurns
	}
	return budget
}
