// Package provider defines the three adapter contracts the pipeline
// depends on: ChatProvider, VCSProvider, and LLMProvider. Concrete
// implementations live in provider/chat, provider/vcs, provider/llm.
package provider

import (
	"context"

	"github.com/pebblecode/tracewatch/internal/model"
)

// ChatProvider is a chat platform integration (Slack, in this build).
// Implementations must tolerate transient disconnects and reconnect
// internally; Listen should keep yielding messages across reconnects
// until ctx is canceled.
type ChatProvider interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Listen streams incoming messages onto the returned channel. The
	// channel is closed when ctx is canceled or the connection is
	// permanently lost. A non-nil error reports why it closed early.
	Listen(ctx context.Context) (<-chan model.ChatMessage, <-chan error)

	SendReply(ctx context.Context, reply model.ChatReply) (messageID string, err error)
	AddReaction(ctx context.Context, channelID, messageID, reaction string) error
	RemoveReaction(ctx context.Context, channelID, messageID, reaction string) error
}

// IssueState filters VCSProvider.SearchIssues results.
type IssueStateFilter string

const (
	IssueStateOpen   IssueStateFilter = "open"
	IssueStateClosed IssueStateFilter = "closed"
	IssueStateAll    IssueStateFilter = "all"
)

// VCSProvider is a version-control hosting integration (GitHub or GitLab).
type VCSProvider interface {
	SearchIssues(ctx context.Context, repo, query string, state IssueStateFilter, maxResults int) ([]model.IssueSearchResult, error)
	GetIssue(ctx context.Context, repo string, issueNumber int) (*model.Issue, error)
	CreateIssue(ctx context.Context, repo string, issue model.IssueCreate) (model.Issue, error)

	// CloneRepository clones repo into destination, returning the path to
	// the checked-out tree. Implementations must disable hooks and use a
	// shallow, depth-1 clone by default (see security.SafeCmd).
	CloneRepository(ctx context.Context, repo, destination string, branch string, shallow bool) (string, error)

	// GetFileContent returns nil content with a nil error if the file does not exist.
	GetFileContent(ctx context.Context, repo, filePath, ref string) (content *string, err error)
	GetDefaultBranch(ctx context.Context, repo string) (string, error)
}

// LLMProvider is a large-language-model integration (OpenAI, Anthropic, or
// Ollama). Every input passed to these methods must already be redacted by
// security.Redactor; every output must be treated as untrusted and
// schema-validated and length-capped by the caller before use.
type LLMProvider interface {
	AnalyzeError(ctx context.Context, traceback model.ParsedTraceback, codeContext []model.CodeContext, additionalContext string) (model.ErrorAnalysis, error)

	// GenerateIssueTitle returns a string capped at 80 characters.
	GenerateIssueTitle(ctx context.Context, traceback model.ParsedTraceback, analysis model.ErrorAnalysis) (string, error)

	// GenerateIssueBody returns markdown capped at 10000 characters.
	GenerateIssueBody(ctx context.Context, traceback model.ParsedTraceback, analysis model.ErrorAnalysis, codeContext []model.CodeContext) (string, error)

	// CalculateSimilarity scores each candidate issue against traceback,
	// returning scores in the same order as existingIssues.
	CalculateSimilarity(ctx context.Context, traceback model.ParsedTraceback, existingIssues []model.Issue) ([]float64, error)

	ModelName() string
	MaxContextTokens() int
}
