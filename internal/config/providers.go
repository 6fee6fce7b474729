package config

import (
	"fmt"
	"time"
)

// Provider ids the runtime knows how to construct.
const (
	ProviderClaude = "claude"
	ProviderCodex  = "codex"
	ProviderOpenAI = "openai"
)

// ProvidersConfig selects and configures model providers.
type ProvidersConfig struct {
	// Primary is the provider id queried first. Defaults to claude.
	Primary string `yaml:"primary"`

	// Fallback is tried when the primary exhausts its rate-limit budget.
	// Defaults to codex. "none" disables fallback.
	Fallback string `yaml:"fallback"`

	Claude ClaudeConfig `yaml:"claude"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Codex  CodexConfig  `yaml:"codex"`
}

// ClaudeConfig configures the Anthropic-backed provider.
type ClaudeConfig struct {
	// Enabled gates construction. Overridable via
	// COURIER_PROVIDER_CLAUDE_ENABLED.
	Enabled bool `yaml:"enabled"`

	// APIKey authenticates API calls. Overridable via ANTHROPIC_API_KEY.
	APIKey string `yaml:"api_key"`

	// Model overrides the adapter's default model.
	Model string `yaml:"model"`

	// MaxTokens caps completion length.
	MaxTokens int64 `yaml:"max_tokens"`

	// RequestTimeout bounds each API request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// OpenAIConfig configures the OpenAI-backed provider.
type OpenAIConfig struct {
	// Enabled gates construction. Overridable via
	// COURIER_PROVIDER_OPENAI_ENABLED.
	Enabled bool `yaml:"enabled"`

	// APIKey authenticates API calls. Overridable via OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// Model overrides the adapter's default model.
	Model string `yaml:"model"`

	// MaxTokens caps completion length.
	MaxTokens int64 `yaml:"max_tokens"`

	// RequestTimeout bounds each API request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// CodexConfig configures the echo provider.
type CodexConfig struct {
	// Enabled gates the provider. Overridable via
	// COURIER_PROVIDER_CODEX_ENABLED. Defaults on when no API-backed
	// provider is enabled.
	Enabled bool `yaml:"enabled"`
}

// FallbackNone disables the fallback chain.
const FallbackNone = "none"

func (c *ProvidersConfig) validate() error {
	if !knownProvider(c.Primary) {
		return fmt.Errorf("config: unknown primary provider %q", c.Primary)
	}
	if !c.enabled(c.Primary) {
		return fmt.Errorf("config: primary provider %q is not enabled", c.Primary)
	}
	if c.Fallback != "" && c.Fallback != FallbackNone {
		if !knownProvider(c.Fallback) {
			return fmt.Errorf("config: unknown fallback provider %q", c.Fallback)
		}
		if c.Fallback == c.Primary {
			return fmt.Errorf("config: fallback provider equals primary %q", c.Primary)
		}
		if !c.enabled(c.Fallback) {
			return fmt.Errorf("config: fallback provider %q is not enabled", c.Fallback)
		}
	}
	if c.Claude.Enabled && c.Claude.APIKey == "" {
		return fmt.Errorf("config: providers.claude enabled without an api key")
	}
	if c.OpenAI.Enabled && c.OpenAI.APIKey == "" {
		return fmt.Errorf("config: providers.openai enabled without an api key")
	}
	return nil
}

// FallbackID returns the effective fallback provider id, "" when disabled.
func (c *ProvidersConfig) FallbackID() string {
	if c.Fallback == FallbackNone {
		return ""
	}
	return c.Fallback
}

func (c *ProvidersConfig) enabled(id string) bool {
	switch id {
	case ProviderClaude:
		return c.Claude.Enabled
	case ProviderCodex:
		return c.Codex.Enabled
	case ProviderOpenAI:
		return c.OpenAI.Enabled
	default:
		return false
	}
}

func knownProvider(id string) bool {
	switch id {
	case ProviderClaude, ProviderCodex, ProviderOpenAI:
		return true
	default:
		return false
	}
}
