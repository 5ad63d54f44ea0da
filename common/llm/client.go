package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openai/openai-go"
)

// Client is a single-turn, schema-constrained chat completion. It has no
// notion of tool calls or multi-turn agent loops: callers send a system
// prompt, a user prompt, and a target JSON Schema, and get back usage
// counters plus the unmarshaled result.
type Client interface {
	Chat(ctx context.Context, req Request, result any) (*Response, error)
	Model() string
	MaxContextTokens() int
}

// Request is one schema-constrained chat turn.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	MaxTokens    int
	Temperature  *float64 // nil = provider default, explicit 0 = deterministic
}

// Response carries token usage for the completed turn.
type Response struct {
	PromptTokens     int
	CompletionTokens int
}

// GenerateSchema reflects a JSON Schema from T's zero value.
func GenerateSchema[T any]() any {
	var v T
	return GenerateSchemaFrom(v)
}

// Temp returns a pointer to t, for Request.Temperature literals.
func Temp(t float64) *float64 {
	return &t
}

// IsRetryable reports whether err represents a transient failure worth
// retrying with backoff: rate limiting, 5xx responses, or a bare network
// error with no API response at all. Context cancellation and non-retryable
// 4xx responses return false.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled or deadline exceeded")
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", apiErr.StatusCode)
			return true
		case apiErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm server error, will retry", "status_code", apiErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm client error, not retryable",
				"status_code", apiErr.StatusCode, "error_type", apiErr.Type, "error_code", apiErr.Code)
			return false
		}
	}

	slog.WarnContext(ctx, "llm network error, will retry", "error", err)
	return true
}
