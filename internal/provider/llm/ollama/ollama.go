// Package ollama implements provider.LLMProvider against a local Ollama
// server over its /api/chat endpoint. No official Ollama SDK exists, so
// this is a small hand-rolled net/http client, grounded on the pack's
// Ollama-calling code rather than any particular library.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pebblecode/tracewatch/internal/model"
	"github.com/pebblecode/tracewatch/internal/provider/llm/shared"
	"github.com/pebblecode/tracewatch/internal/telemetry"
)

const providerName = "ollama"

// URLValidator mirrors security.ValidateOllamaURL's signature so this
// package doesn't import internal/security directly.
type URLValidator func(rawURL string) error

type Adapter struct {
	baseURL    string
	model      string
	httpClient *http.Client
	redactor   shared.Redactor
}

// Config configures an Ollama adapter.
type Config struct {
	BaseURL string // e.g. "http://localhost:11434"
	Model   string
	Timeout time.Duration
}

// New validates baseURL with validate (expected to be security.ValidateOllamaURL,
// which defaults to loopback-only) before constructing the adapter.
func New(cfg Config, redactor shared.Redactor, validate URLValidator) (*Adapter, error) {
	if redactor == nil {
		return nil, fmt.Errorf("ollama adapter: redactor is required")
	}
	if validate != nil {
		if err := validate(cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("ollama adapter: %w", err)
		}
	}

	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Adapter{
		baseURL:    cfg.BaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		redactor:   redactor,
	}, nil
}

func (a *Adapter) ModelName() string     { return a.model }
func (a *Adapter) MaxContextTokens() int { return 32768 }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   any           `json:"format,omitempty"` // JSON schema, constrains output
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

func (a *Adapter) chat(ctx context.Context, systemPrompt, userPrompt string, schema any, result any) (err error) {
	start := time.Now()
	defer func() {
		telemetry.RecordExternalCall(ctx, providerName, "chat", time.Since(start), err)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			telemetry.RecordTimeout(ctx, providerName)
		}
	}()

	reqBody, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: false,
		Format: schema,
	})
	if err != nil {
		return fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(shared.MaxResponseLength)))
	if err != nil {
		return fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, body)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("unmarshal ollama envelope: %w", err)
	}

	if err := json.Unmarshal([]byte(parsed.Message.Content), result); err != nil {
		return fmt.Errorf("unmarshal ollama content: %w", err)
	}
	return nil
}

func (a *Adapter) AnalyzeError(ctx context.Context, tb model.ParsedTraceback, codeContext []model.CodeContext, additionalContext string) (model.ErrorAnalysis, error) {
	userPrompt, err := shared.BuildAnalysisUserPrompt(a.redactor, tb, codeContext, additionalContext)
	if err != nil {
		return model.ErrorAnalysis{}, err
	}

	var resp shared.ErrorAnalysisResponse
	if err := a.chat(ctx, shared.AnalysisSystemPrompt, userPrompt, shared.ErrorAnalysisSchema(), &resp); err != nil {
		return model.ErrorAnalysis{}, fmt.Errorf("ollama analyze_error: %w", err)
	}
	return shared.ValidateErrorAnalysis(resp)
}

func (a *Adapter) GenerateIssueTitle(ctx context.Context, tb model.ParsedTraceback, analysis model.ErrorAnalysis) (string, error) {
	redacted, err := a.redactor.Redact(shared.FormatTraceback(tb))
	if err != nil {
		return "", fmt.Errorf("redact traceback: %w", err)
	}

	type titleResponse struct {
		Title string `json:"title"`
	}
	var resp titleResponse
	err = a.chat(ctx, "Generate a concise GitHub issue title (max 80 chars). Output JSON: {\"title\": \"...\"}",
		fmt.Sprintf("%s\n\nRoot cause: %s", redacted, analysis.RootCause),
		map[string]any{"type": "object", "properties": map[string]any{"title": map[string]any{"type": "string"}}},
		&resp)
	if err != nil {
		return fmt.Sprintf("%s: %s", tb.ExceptionType, capShort(tb.ExceptionMessage, 50)), nil
	}
	return shared.CapTitle(resp.Title), nil
}

func (a *Adapter) GenerateIssueBody(ctx context.Context, tb model.ParsedTraceback, analysis model.ErrorAnalysis, codeContext []model.CodeContext) (string, error) {
	redactedTraceback, err := a.redactor.Redact(shared.FormatTraceback(tb))
	if err != nil {
		return "", fmt.Errorf("redact traceback: %w", err)
	}

	type bodyResponse struct {
		Body string `json:"body"`
	}
	var resp bodyResponse
	err = a.chat(ctx,
		"You are a GitHub issue writer. Output JSON: {\"body\": \"markdown text\"}, under 10000 characters.",
		fmt.Sprintf("<traceback>\n%s\n</traceback>\n\nRoot cause: %s\nExplanation: %s\nSeverity: %s",
			redactedTraceback, analysis.RootCause, analysis.Explanation, analysis.Severity),
		map[string]any{"type": "object", "properties": map[string]any{"body": map[string]any{"type": "string"}}},
		&resp)
	if err != nil {
		return "", fmt.Errorf("ollama generate_issue_body: %w", err)
	}
	return shared.CapBody(resp.Body), nil
}

func (a *Adapter) CalculateSimilarity(ctx context.Context, tb model.ParsedTraceback, existingIssues []model.Issue) ([]float64, error) {
	if len(existingIssues) == 0 {
		return nil, nil
	}

	redacted, err := a.redactor.Redact(shared.FormatTraceback(tb))
	if err != nil {
		return nil, fmt.Errorf("redact traceback: %w", err)
	}

	var issuesText string
	for i, issue := range existingIssues {
		body := issue.Body
		if len(body) > 200 {
			body = body[:200]
		}
		redactedBody, rerr := a.redactor.Redact(body)
		if rerr != nil {
			return nil, fmt.Errorf("redact issue body: %w", rerr)
		}
		issuesText += fmt.Sprintf("Issue #%d: %s\n%s\n\n", i, issue.Title, redactedBody)
	}

	var resp shared.SimilarityResponse
	err = a.chat(ctx,
		"Compare the traceback to existing issues to find duplicates. Output JSON: "+
			`{"similarities": [{"issue_index": 0, "score": 0.0, "reason": "..."}]}`,
		fmt.Sprintf("<traceback>\n%s\n</traceback>\n\n<existing_issues>\n%s</existing_issues>", redacted, issuesText),
		map[string]any{"type": "object"},
		&resp)
	if err != nil {
		scores := make([]float64, len(existingIssues))
		for i := range scores {
			scores[i] = 0.5
		}
		return scores, nil
	}
	return shared.ResolveSimilarityScores(resp, len(existingIssues)), nil
}

func capShort(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
