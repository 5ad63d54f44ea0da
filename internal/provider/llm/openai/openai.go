// Package openai implements provider.LLMProvider on top of common/llm's
// OpenAI client, forcing every response through response_format's JSON
// Schema mode.
package openai

import (
	"context"
	"fmt"

	"github.com/pebblecode/tracewatch/common/llm"
	"github.com/pebblecode/tracewatch/internal/model"
	"github.com/pebblecode/tracewatch/internal/provider/llm/shared"
)

type Adapter struct {
	client   llm.Client
	redactor shared.Redactor
}

// New builds an Adapter. redactor is mandatory: every prompt is redacted
// before it reaches the API, fail-closed.
func New(cfg llm.Config, redactor shared.Redactor) (*Adapter, error) {
	if redactor == nil {
		return nil, fmt.Errorf("openai adapter: redactor is required")
	}
	cfg.Provider = llm.ProviderOpenAI
	client, err := llm.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("openai adapter: %w", err)
	}
	return &Adapter{client: client, redactor: redactor}, nil
}

func (a *Adapter) ModelName() string      { return a.client.Model() }
func (a *Adapter) MaxContextTokens() int  { return a.client.MaxContextTokens() }

func (a *Adapter) AnalyzeError(ctx context.Context, tb model.ParsedTraceback, codeContext []model.CodeContext, additionalContext string) (model.ErrorAnalysis, error) {
	userPrompt, err := shared.BuildAnalysisUserPrompt(a.redactor, tb, codeContext, additionalContext)
	if err != nil {
		return model.ErrorAnalysis{}, err
	}

	var resp shared.ErrorAnalysisResponse
	_, err = a.client.Chat(ctx, llm.Request{
		SystemPrompt: shared.AnalysisSystemPrompt,
		UserPrompt:   userPrompt,
		SchemaName:   "error_analysis",
		Schema:       llm.GenerateSchema[shared.ErrorAnalysisResponse](),
		MaxTokens:    2048,
	}, &resp)
	if err != nil {
		return model.ErrorAnalysis{}, fmt.Errorf("openai analyze_error: %w", err)
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
	_, err = a.client.Chat(ctx, llm.Request{
		SystemPrompt: "Generate a concise GitHub issue title (max 80 chars) for the following error.",
		UserPrompt:   fmt.Sprintf("%s\n\nRoot cause: %s", redacted, analysis.RootCause),
		SchemaName:   "issue_title",
		Schema:       llm.GenerateSchema[titleResponse](),
		MaxTokens:    100,
		Temperature:  llm.Temp(0.3),
	}, &resp)
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
	_, err = a.client.Chat(ctx, llm.Request{
		SystemPrompt: "You are a GitHub issue writer. Output only Markdown suitable for an issue body, under 10000 characters.",
		UserPrompt: fmt.Sprintf(`<traceback>
%s
</traceback>

Root cause: %s
Explanation: %s
Severity: %s

Generate a GitHub issue body with sections: Summary, Traceback, Analysis, Suggested Fix, Severity.`,
			redactedTraceback, analysis.RootCause, analysis.Explanation, analysis.Severity),
		SchemaName: "issue_body",
		Schema:     llm.GenerateSchema[bodyResponse](),
		MaxTokens:  4096,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("openai generate_issue_body: %w", err)
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
	_, err = a.client.Chat(ctx, llm.Request{
		SystemPrompt: "You are comparing a Python traceback to existing issues to find duplicates. " +
			"Score 0.9-1.0 for same exception/message/location, 0.7-0.9 for same type and similar location, " +
			"0.4-0.7 for related errors, 0.0-0.4 for unrelated.",
		UserPrompt:  fmt.Sprintf("<traceback>\n%s\n</traceback>\n\n<existing_issues>\n%s</existing_issues>", redacted, issuesText),
		SchemaName:  "similarity",
		Schema:      llm.GenerateSchema[shared.SimilarityResponse](),
		MaxTokens:   1024,
		Temperature: llm.Temp(0.1),
	}, &resp)
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
