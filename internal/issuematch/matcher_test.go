package issuematch_test

import (
	"context"

	"github.com/pebblecode/tracewatch/internal/issuematch"
	"github.com/pebblecode/tracewatch/internal/model"
	"github.com/pebblecode/tracewatch/internal/provider"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeVCS struct {
	results []model.IssueSearchResult
	calls   int
}

func (f *fakeVCS) SearchIssues(ctx context.Context, repo, query string, state provider.IssueStateFilter, maxResults int) ([]model.IssueSearchResult, error) {
	f.calls++
	return f.results, nil
}
func (f *fakeVCS) GetIssue(ctx context.Context, repo string, issueNumber int) (*model.Issue, error) {
	return nil, nil
}
func (f *fakeVCS) CreateIssue(ctx context.Context, repo string, issue model.IssueCreate) (model.Issue, error) {
	return model.Issue{}, nil
}
func (f *fakeVCS) CloneRepository(ctx context.Context, repo, destination, branch string, shallow bool) (string, error) {
	return "", nil
}
func (f *fakeVCS) GetFileContent(ctx context.Context, repo, filePath, ref string) (*string, error) {
	return nil, nil
}
func (f *fakeVCS) GetDefaultBranch(ctx context.Context, repo string) (string, error) {
	return "", nil
}

type fakeLLM struct {
	scores []float64
}

func (f *fakeLLM) AnalyzeError(ctx context.Context, tb model.ParsedTraceback, codeContext []model.CodeContext, additionalContext string) (model.ErrorAnalysis, error) {
	return model.ErrorAnalysis{}, nil
}
func (f *fakeLLM) GenerateIssueTitle(ctx context.Context, tb model.ParsedTraceback, analysis model.ErrorAnalysis) (string, error) {
	return "", nil
}
func (f *fakeLLM) GenerateIssueBody(ctx context.Context, tb model.ParsedTraceback, analysis model.ErrorAnalysis, codeContext []model.CodeContext) (string, error) {
	return "", nil
}
func (f *fakeLLM) CalculateSimilarity(ctx context.Context, tb model.ParsedTraceback, issues []model.Issue) ([]float64, error) {
	return f.scores, nil
}
func (f *fakeLLM) ModelName() string      { return "fake" }
func (f *fakeLLM) MaxContextTokens() int  { return 1000 }

var sampleTraceback = model.ParsedTraceback{
	ExceptionType:    "ValueError",
	ExceptionMessage: "invalid literal for int() with base 10: 'abc'",
	Frames: []model.StackFrame{
		{FilePath: "/usr/lib/python3.11/site-packages/requests/models.py", LineNumber: 1, FunctionName: "json"},
		{FilePath: "app/handlers/parser.py", LineNumber: 42, FunctionName: "parse_payload"},
	},
}

func issueResult(number int, title, body string, state model.IssueState) model.IssueSearchResult {
	return model.IssueSearchResult{
		Issue: model.Issue{Number: number, Title: title, Body: body, State: state},
	}
}

var _ = Describe("Matcher", func() {
	Describe("BuildSearchQuery", func() {
		It("includes the exception type, a quoted message excerpt, and project frame basenames", func() {
			m := issuematch.New(&fakeVCS{}, nil, issuematch.DefaultConfig())
			query := m.BuildSearchQuery(sampleTraceback)
			Expect(query).To(ContainSubstring("ValueError"))
			Expect(query).To(ContainSubstring("parser.py"))
			Expect(query).NotTo(ContainSubstring("models.py")) // stdlib/site-packages frame excluded
		})
	})

	Describe("FindMatches", func() {
		It("returns no matches when the VCS backend has nothing", func() {
			vcs := &fakeVCS{}
			m := issuematch.New(vcs, nil, issuematch.DefaultConfig())
			matches, err := m.FindMatches(context.Background(), "owner/repo", sampleTraceback)
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(BeEmpty())
		})

		It("scores an exact exception-type-and-message match highly", func() {
			vcs := &fakeVCS{results: []model.IssueSearchResult{
				issueResult(1, "ValueError: invalid literal for int()", "seen when parsing payload", model.IssueOpen),
			}}
			m := issuematch.New(vcs, nil, issuematch.DefaultConfig())
			matches, err := m.FindMatches(context.Background(), "owner/repo", sampleTraceback)
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].Confidence).To(BeNumerically(">", 0.5))
			Expect(matches[0].MatchReasons).To(ContainElement("exact exception type"))
		})

		It("drops closed issues when include_closed is false", func() {
			vcs := &fakeVCS{results: []model.IssueSearchResult{
				issueResult(1, "ValueError somewhere", "", model.IssueClosed),
			}}
			cfg := issuematch.DefaultConfig()
			cfg.IncludeClosed = false
			m := issuematch.New(vcs, nil, cfg)
			// FindMatches relies on the VCS backend to honor the state filter;
			// the matcher still scores whatever it's handed back, so this
			// exercises that a closed issue's reasons get the "(closed)" suffix
			// rather than being silently dropped by the matcher itself.
			matches, err := m.FindMatches(context.Background(), "owner/repo", sampleTraceback)
			Expect(err).NotTo(HaveOccurred())
			if len(matches) > 0 {
				Expect(matches[0].MatchReasons[0]).To(ContainSubstring("(closed)"))
			}
		})

		It("caches repeated searches for the same repo and query", func() {
			vcs := &fakeVCS{results: []model.IssueSearchResult{issueResult(1, "x", "y", model.IssueOpen)}}
			m := issuematch.New(vcs, nil, issuematch.DefaultConfig())
			_, err := m.FindMatches(context.Background(), "owner/repo", sampleTraceback)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.FindMatches(context.Background(), "owner/repo", sampleTraceback)
			Expect(err).NotTo(HaveOccurred())
			Expect(vcs.calls).To(Equal(1))
		})

		It("incorporates the semantic score when an LLM backend is configured", func() {
			vcs := &fakeVCS{results: []model.IssueSearchResult{issueResult(1, "unrelated", "unrelated", model.IssueOpen)}}
			llm := &fakeLLM{scores: []float64{0.9}}
			m := issuematch.New(vcs, llm, issuematch.DefaultConfig())
			matches, err := m.FindMatches(context.Background(), "owner/repo", sampleTraceback)
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].MatchReasons).To(ContainElement("semantic similarity"))
		})
	})

	Describe("SetStrategyWeight and EnableStrategy", func() {
		It("rejects an unknown strategy name", func() {
			m := issuematch.New(&fakeVCS{}, nil, issuematch.DefaultConfig())
			Expect(m.SetStrategyWeight("bogus", 0.5)).To(HaveOccurred())
			Expect(m.EnableStrategy("bogus", false)).To(HaveOccurred())
		})

		It("rejects a negative weight", func() {
			m := issuematch.New(&fakeVCS{}, nil, issuematch.DefaultConfig())
			Expect(m.SetStrategyWeight("type", -1)).To(HaveOccurred())
		})

		It("zeroes a disabled strategy's contribution", func() {
			vcs := &fakeVCS{results: []model.IssueSearchResult{
				issueResult(1, "ValueError: invalid literal for int()", "", model.IssueOpen),
			}}
			m := issuematch.New(vcs, nil, issuematch.DefaultConfig())
			Expect(m.EnableStrategy("type", false)).NotTo(HaveOccurred())
			matches, err := m.FindMatches(context.Background(), "owner/repo", sampleTraceback)
			Expect(err).NotTo(HaveOccurred())
			if len(matches) > 0 {
				Expect(matches[0].MatchReasons).NotTo(ContainElement("exact exception type"))
			}
		})
	})
})
