package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pebblecode/tracewatch/internal/telemetry"
)

const anthropicProviderName = "anthropic"

var anthropicContextWindows = map[string]int{
	"claude-sonnet-4-5-20250514": 200000,
	"claude-opus-4-1-20250805":   200000,
}

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropicClient(cfg Config) (Client, error) {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250514"
	}

	return &anthropicClient{client: anthropic.NewClient(opts...), model: model}, nil
}

// Chat implements schema-constrained output the way Anthropic's API
// supports it: a single tool whose input_schema is req.Schema, with
// tool_choice forced so the model must respond by "calling" it. The tool's
// input argument IS the structured response; there is no separate
// response_format parameter like OpenAI's.
func (c *anthropicClient) Chat(ctx context.Context, req Request, result any) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	schemaParam := anthropic.ToolInputSchemaParam{Type: "object"}
	if props, ok := req.Schema.(map[string]any); ok {
		schemaParam.Properties = props["properties"]
	} else {
		schemaParam.Properties = req.Schema
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
		System: []anthropic.TextBlockParam{{Type: "text", Text: req.SystemPrompt}},
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        req.SchemaName,
					Description: anthropic.String("Structured response schema"),
					InputSchema: schemaParam,
				},
			},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.SchemaName},
		},
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	telemetry.RecordExternalCall(ctx, anthropicProviderName, "chat", time.Since(start), err)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			telemetry.RecordTimeout(ctx, anthropicProviderName)
		}
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	slog.DebugContext(ctx, "llm chat completed",
		"provider", "anthropic",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason)

	for _, block := range resp.Content {
		if block.Type == "tool_use" {
			if err := unmarshalRawJSON(block.Input, result); err != nil {
				return nil, fmt.Errorf("unmarshal anthropic tool input: %w", err)
			}
			return &Response{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
			}, nil
		}
	}

	return nil, fmt.Errorf("anthropic chat: model did not return a tool_use block")
}

func (c *anthropicClient) Model() string { return c.model }

func (c *anthropicClient) MaxContextTokens() int {
	if n, ok := anthropicContextWindows[c.model]; ok {
		return n
	}
	return 200000
}
