// Engine builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"fmt"

	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/llm"
)

// Builder provides fluent configuration for creating engines.
// Usage: agent.NewBuilder("name") - no stutter.
type Builder struct {
	config Config
}

// NewBuilder creates a new builder with the given name and defaults.
func NewBuilder(name string) *Builder {
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.SystemPrompt = ""
	return &Builder{config: cfg}
}

// SystemPrompt sets the system instruction.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	b.config.SystemPrompt = prompt
	return b
}

// Tool adds a tool declaration.
func (b *Builder) Tool(def llm.ToolDefinition) *Builder {
	b.config.Tools = append(b.config.Tools, def)
	return b
}

// Tools adds multiple tool declarations at once.
func (b *Builder) Tools(defs []llm.ToolDefinition) *Builder {
	b.config.Tools = append(b.config.Tools, defs...)
	return b
}

// Model sets the initial model.
func (b *Builder) Model(model string) *Builder {
	b.config.Model = model
	return b
}

// FallbackModel sets the model offered on rate limits.
func (b *Builder) FallbackModel(model string) *Builder {
	b.config.FallbackModel = model
	return b
}

// Sampling sets the sampling parameters.
func (b *Builder) Sampling(params llm.SamplingParams) *Builder {
	b.config.Sampling = params
	return b
}

// MaxTurns sets the default per-message turn budget.
func (b *Builder) MaxTurns(n int) *Builder {
	b.config.MaxTurns = n
	return b
}

// MaxSessionTurns sets the session turn cap. Zero or less is unlimited.
func (b *Builder) MaxSessionTurns(n int) *Builder {
	b.config.MaxSessionTurns = n
	return b
}

// Audience sets who rate limit messages are written for.
func (b *Builder) Audience(aud apierror.Audience) *Builder {
	b.config.Audience = aud
	return b
}

// Build creates the engine configuration.
func (b *Builder) Build() Config {
	cfg := b.config
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = fmt.Sprintf(
			"You are %s, a coding assistant. Use the available tools when they help.",
			cfg.Name,
		)
	}
	cfg.Tools = append([]llm.ToolDefinition(nil), cfg.Tools...)
	return cfg
}

// Name returns the builder's engine name.
func (b *Builder) Name() string {
	return b.config.Name
}

// ToolCount returns the number of tools declared.
func (b *Builder) ToolCount() int {
	return len(b.config.Tools)
}
