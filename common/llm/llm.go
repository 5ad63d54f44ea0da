// Package llm wraps the OpenAI and Anthropic SDKs behind a single
// schema-constrained chat interface. Callers supply a JSON Schema and get
// back a typed value; the provider-specific mechanics for forcing structured
// output (OpenAI's response_format, Anthropic's forced tool use) are
// contained here.
package llm

import (
	"fmt"
	"regexp"

	"github.com/invopop/jsonschema"
)

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Provider selects which backend New dispatches to.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ReasoningEffort controls the amount of reasoning for models that support it.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	Provider        string // "openai" or "anthropic"
	APIKey          string
	BaseURL         string
	Model           string
	ReasoningEffort ReasoningEffort
}

// New constructs a Client for cfg.Provider. Defaults to OpenAI if unset.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}

	switch provider {
	case ProviderOpenAI:
		return newOpenAIClient(cfg)
	case ProviderAnthropic:
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// GenerateSchemaFrom generates a JSON schema from an instance value, for
// callers that don't know the target type at compile time.
func GenerateSchemaFrom(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// SanitizeName converts a display name to a valid OpenAI "name" field value
// (must match ^[a-zA-Z0-9_-]{1,64}$). Invalid characters become underscores;
// the result is truncated to 64 characters.
func SanitizeName(name string) string {
	sanitized := nameInvalidChars.ReplaceAllString(name, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}
