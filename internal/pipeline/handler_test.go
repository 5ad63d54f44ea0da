package pipeline_test

import (
	"context"
	"sync"
	"time"

	"github.com/pebblecode/tracewatch/internal/codeanalyzer"
	"github.com/pebblecode/tracewatch/internal/issuematch"
	"github.com/pebblecode/tracewatch/internal/model"
	"github.com/pebblecode/tracewatch/internal/pipeline"
	"github.com/pebblecode/tracewatch/internal/provider"
	"github.com/pebblecode/tracewatch/internal/traceback"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeChat struct {
	mu        sync.Mutex
	replies   []model.ChatReply
	added     []string
	removed   []string
}

func (f *fakeChat) Connect(ctx context.Context) error    { return nil }
func (f *fakeChat) Disconnect(ctx context.Context) error { return nil }
func (f *fakeChat) Listen(ctx context.Context) (<-chan model.ChatMessage, <-chan error) {
	return nil, nil
}
func (f *fakeChat) SendReply(ctx context.Context, reply model.ChatReply) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply)
	return "reply-id", nil
}
func (f *fakeChat) AddReaction(ctx context.Context, channelID, messageID, reaction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, reaction)
	return nil
}
func (f *fakeChat) RemoveReaction(ctx context.Context, channelID, messageID, reaction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, reaction)
	return nil
}

type fakeVCS struct {
	searchResults []model.IssueSearchResult
	createdIssue  model.Issue
	createErr     error
	createCalls   int
}

func (f *fakeVCS) SearchIssues(ctx context.Context, repo, query string, state provider.IssueStateFilter, maxResults int) ([]model.IssueSearchResult, error) {
	return f.searchResults, nil
}
func (f *fakeVCS) GetIssue(ctx context.Context, repo string, issueNumber int) (*model.Issue, error) {
	return nil, nil
}
func (f *fakeVCS) CreateIssue(ctx context.Context, repo string, issue model.IssueCreate) (model.Issue, error) {
	f.createCalls++
	if f.createErr != nil {
		return model.Issue{}, f.createErr
	}
	if f.createdIssue.URL == "" {
		f.createdIssue = model.Issue{Number: 1, Title: issue.Title, Body: issue.Body, URL: "https://example.test/issues/1", State: model.IssueOpen}
	}
	return f.createdIssue, nil
}
func (f *fakeVCS) CloneRepository(ctx context.Context, repo, destination, branch string, shallow bool) (string, error) {
	return "", nil
}
func (f *fakeVCS) GetFileContent(ctx context.Context, repo, filePath, ref string) (*string, error) {
	return nil, nil
}
func (f *fakeVCS) GetDefaultBranch(ctx context.Context, repo string) (string, error) { return "", nil }

type fakeLLM struct{}

func (f *fakeLLM) AnalyzeError(ctx context.Context, tb model.ParsedTraceback, codeContext []model.CodeContext, additionalContext string) (model.ErrorAnalysis, error) {
	return model.ErrorAnalysis{RootCause: "a malformed payload field", Severity: model.SeverityMedium, Confidence: 0.8}, nil
}
func (f *fakeLLM) GenerateIssueTitle(ctx context.Context, tb model.ParsedTraceback, analysis model.ErrorAnalysis) (string, error) {
	return "ValueError parsing payload", nil
}
func (f *fakeLLM) GenerateIssueBody(ctx context.Context, tb model.ParsedTraceback, analysis model.ErrorAnalysis, codeContext []model.CodeContext) (string, error) {
	return "body", nil
}
func (f *fakeLLM) CalculateSimilarity(ctx context.Context, tb model.ParsedTraceback, issues []model.Issue) ([]float64, error) {
	scores := make([]float64, len(issues))
	return scores, nil
}
func (f *fakeLLM) ModelName() string     { return "fake" }
func (f *fakeLLM) MaxContextTokens() int { return 1000 }

type passthroughRedactor struct{}

func (passthroughRedactor) Redact(text string) (string, error) { return text, nil }

// erroringRedactor simulates a redaction engine that fails internally
// (e.g. a pattern compile/runtime failure), so tests can verify the
// pipeline never forwards unredacted text when that happens.
type erroringRedactor struct{}

func (erroringRedactor) Redact(text string) (string, error) {
	return "", assertionError("redaction engine is unavailable")
}

const sampleTracebackText = `Traceback (most recent call last):
  File "app/handlers/parser.py", line 42, in parse_payload
    value = int(raw)
ValueError: invalid literal for int() with base 10: 'abc'`

func newHandler(chat *fakeChat, vcs *fakeVCS, llm provider.LLMProvider, cfg pipeline.Config) *pipeline.Handler {
	return newHandlerWithRedactor(chat, vcs, llm, cfg, passthroughRedactor{})
}

func newHandlerWithRedactor(chat *fakeChat, vcs *fakeVCS, llm provider.LLMProvider, cfg pipeline.Config, redactor pipeline.Redactor) *pipeline.Handler {
	cfg.ChannelRepos = map[string]string{"C1": "owner/repo"}
	matcher := issuematch.New(vcs, llm, issuematch.DefaultConfig())
	analyzer := codeanalyzer.New(nil, codeanalyzer.Config{MaxFiles: 0}, passthroughRedactor{})
	return pipeline.New(cfg, chat, vcs, llm, traceback.NewParser(), matcher, analyzer, redactor)
}

var _ = Describe("Handler", func() {
	var chat *fakeChat
	var vcs *fakeVCS
	var cfg pipeline.Config

	BeforeEach(func() {
		chat = &fakeChat{}
		vcs = &fakeVCS{}
		cfg = pipeline.DefaultConfig()
	})

	It("does nothing for a message with no traceback", func() {
		h := newHandler(chat, vcs, &fakeLLM{}, cfg)
		msg := model.ChatMessage{ChannelID: "C1", MessageID: "m1", Text: "hey is the deploy done?"}
		result, err := h.Handle(context.Background(), msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(model.ResultNoTraceback))
		Expect(chat.added).To(ContainElement(cfg.ProcessingReaction))
		Expect(chat.removed).To(ContainElement(cfg.ProcessingReaction))
		Expect(chat.added).To(ContainElement(cfg.CompleteReaction))
	})

	It("links an existing issue when a high-confidence match exists", func() {
		vcs.searchResults = []model.IssueSearchResult{
			{Issue: model.Issue{Number: 7, Title: "ValueError: invalid literal for int()", Body: "parse_payload raises this", State: model.IssueOpen, URL: "https://example.test/issues/7"}},
		}
		h := newHandler(chat, vcs, &fakeLLM{}, cfg)
		msg := model.ChatMessage{ChannelID: "C1", MessageID: "m2", Text: sampleTracebackText}
		result, err := h.Handle(context.Background(), msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(model.ResultExistingIssueLinked))
		Expect(chat.replies).To(HaveLen(1))
		Expect(chat.replies[0].Text).To(ContainSubstring("https://example.test/issues/7"))
		Expect(vcs.createCalls).To(Equal(0))
	})

	It("files a new issue when nothing matches closely enough", func() {
		h := newHandler(chat, vcs, &fakeLLM{}, cfg)
		msg := model.ChatMessage{ChannelID: "C1", MessageID: "m3", Text: sampleTracebackText}
		result, err := h.Handle(context.Background(), msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(model.ResultNewIssueCreated))
		Expect(vcs.createCalls).To(Equal(1))
		Expect(chat.replies[0].Text).To(ContainSubstring("https://example.test/issues/1"))
	})

	It("reuses the fingerprint-deduped issue instead of filing a duplicate", func() {
		h := newHandler(chat, vcs, &fakeLLM{}, cfg)
		msg1 := model.ChatMessage{ChannelID: "C1", MessageID: "m4", Text: sampleTracebackText}
		_, err := h.Handle(context.Background(), msg1)
		Expect(err).NotTo(HaveOccurred())

		msg2 := model.ChatMessage{ChannelID: "C1", MessageID: "m5", Text: sampleTracebackText}
		result, err := h.Handle(context.Background(), msg2)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(model.ResultExistingIssueLinked))
		Expect(vcs.createCalls).To(Equal(1))
	})

	It("rejects a replayed message id without mutating reactions twice", func() {
		h := newHandler(chat, vcs, &fakeLLM{}, cfg)
		msg := model.ChatMessage{ChannelID: "C1", MessageID: "m6", Text: "no traceback here"}
		_, err := h.Handle(context.Background(), msg)
		Expect(err).NotTo(HaveOccurred())

		_, err = h.Handle(context.Background(), msg)
		Expect(err).To(HaveOccurred())
		Expect(chat.added).To(HaveLen(2)) // processing + complete, once only
	})

	It("replies with an error when the channel has no configured repository", func() {
		h := newHandler(chat, vcs, &fakeLLM{}, cfg)
		msg := model.ChatMessage{ChannelID: "unmapped-channel", MessageID: "m7", Text: sampleTracebackText}
		result, err := h.Handle(context.Background(), msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(model.ResultError))
	})

	It("surfaces an error result when issue creation fails", func() {
		vcs.createErr = assertionError("vcs is down")
		h := newHandler(chat, vcs, &fakeLLM{}, cfg)
		msg := model.ChatMessage{ChannelID: "C1", MessageID: "m8", Text: sampleTracebackText}
		result, err := h.Handle(context.Background(), msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(model.ResultError))
		Expect(chat.added).To(ContainElement(cfg.ErrorReaction))
	})

	It("fails closed and never files an issue when redaction fails", func() {
		h := newHandlerWithRedactor(chat, vcs, &fakeLLM{}, cfg, erroringRedactor{})
		msg := model.ChatMessage{ChannelID: "C1", MessageID: "m10", Text: sampleTracebackText}
		result, err := h.Handle(context.Background(), msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(model.ResultError))
		Expect(vcs.createCalls).To(Equal(0))
		Expect(chat.added).To(ContainElement(cfg.ErrorReaction))
	})

	It("bounds processing to the configured timeout", func() {
		cfg.ProcessingTimeout = time.Nanosecond
		h := newHandler(chat, vcs, &fakeLLM{}, cfg)
		msg := model.ChatMessage{ChannelID: "C1", MessageID: "m9", Text: sampleTracebackText}
		_, err := h.Handle(context.Background(), msg)
		Expect(err).NotTo(HaveOccurred())
	})
})

type assertionError string

func (e assertionError) Error() string { return string(e) }
