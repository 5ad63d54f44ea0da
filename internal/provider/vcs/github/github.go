// Package github implements provider.VCSProvider against GitHub, using
// go-github for the REST API and security.SafeGHCli (the gh CLI) for the
// one operation the REST API can't do well: a shallow, hook-disabled clone.
package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v58/github"
	"golang.org/x/oauth2"

	"github.com/pebblecode/tracewatch/internal/faults"
	"github.com/pebblecode/tracewatch/internal/model"
	"github.com/pebblecode/tracewatch/internal/provider"
	"github.com/pebblecode/tracewatch/internal/security"
	"github.com/pebblecode/tracewatch/internal/telemetry"
)

const providerName = "github"

type Adapter struct {
	client *github.Client
	ghCli  *security.SafeGHCli
}

// New builds an Adapter. token authenticates REST calls; ghCli handles
// CloneRepository (it may be nil if cloning is never used — callers get a
// clear error instead of a nil-pointer panic).
func New(ctx context.Context, token string, ghCli *security.SafeGHCli) *Adapter {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	return &Adapter{client: github.NewClient(httpClient), ghCli: ghCli}
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", faults.New(faults.KindInvalidRepoName, "invalid repository name", fmt.Errorf("expected owner/repo, got %q", repo))
	}
	return parts[0], parts[1], nil
}

func (a *Adapter) SearchIssues(ctx context.Context, repo, query string, state provider.IssueStateFilter, maxResults int) ([]model.IssueSearchResult, error) {
	if !security.ValidateRepoName(repo) {
		return nil, faults.New(faults.KindInvalidRepoName, "invalid repository name", nil)
	}
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 10
	}

	q := fmt.Sprintf("%s repo:%s is:issue", query, repo)
	if state != "" && state != provider.IssueStateAll {
		q += " state:" + string(state)
	}

	start := time.Now()
	result, resp, err := a.client.Search.Issues(ctx, q, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: maxResults},
	})
	telemetry.RecordExternalCall(ctx, providerName, "search_issues", time.Since(start), err)
	if err != nil {
		return nil, classifyGitHubError(ctx, resp, err)
	}

	out := make([]model.IssueSearchResult, 0, len(result.Issues))
	for _, issue := range result.Issues {
		out = append(out, model.IssueSearchResult{
			Issue:          toModelIssue(issue),
			RelevanceScore: 0, // GitHub's search API doesn't expose a relevance score
		})
	}
	return out, nil
}

func (a *Adapter) GetIssue(ctx context.Context, repo string, issueNumber int) (*model.Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	issue, resp, err := a.client.Issues.Get(ctx, owner, name, issueNumber)
	telemetry.RecordExternalCall(ctx, providerName, "get_issue", time.Since(start), err)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, nil
		}
		return nil, classifyGitHubError(ctx, resp, err)
	}

	m := toModelIssue(issue)
	return &m, nil
}

func (a *Adapter) CreateIssue(ctx context.Context, repo string, issue model.IssueCreate) (model.Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return model.Issue{}, err
	}

	req := &github.IssueRequest{
		Title:     github.String(issue.Title),
		Body:      github.String(issue.Body),
		Labels:    &issue.Labels,
		Assignees: &issue.Assignees,
	}

	start := time.Now()
	created, resp, err := a.client.Issues.Create(ctx, owner, name, req)
	telemetry.RecordExternalCall(ctx, providerName, "create_issue", time.Since(start), err)
	if err != nil {
		return model.Issue{}, classifyGitHubError(ctx, resp, err)
	}

	return toModelIssue(created), nil
}

func (a *Adapter) CloneRepository(ctx context.Context, repo, destination, branch string, shallow bool) (string, error) {
	if a.ghCli == nil {
		return "", faults.New(faults.KindVCSPermission, "cloning is not configured", fmt.Errorf("github adapter: no SafeGHCli configured"))
	}
	start := time.Now()
	path, err := a.ghCli.CloneRepository(ctx, repo, destination, branch, shallow)
	telemetry.RecordExternalCall(ctx, providerName, "clone_repository", time.Since(start), err)
	if err != nil {
		return "", faults.Wrap(faults.KindVCSAuth, "could not clone repository", err.Error(), err)
	}
	return path, nil
}

func (a *Adapter) GetFileContent(ctx context.Context, repo, filePath, ref string) (*string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	opts := &github.RepositoryContentGetOptions{}
	if ref != "" {
		opts.Ref = ref
	}

	start := time.Now()
	fileContent, _, resp, err := a.client.Repositories.GetContents(ctx, owner, name, filePath, opts)
	telemetry.RecordExternalCall(ctx, providerName, "get_file_content", time.Since(start), err)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, nil
		}
		return nil, classifyGitHubError(ctx, resp, err)
	}
	if fileContent == nil {
		return nil, nil
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode file content: %w", err)
	}
	return &content, nil
}

func (a *Adapter) GetDefaultBranch(ctx context.Context, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	start := time.Now()
	repository, resp, err := a.client.Repositories.Get(ctx, owner, name)
	telemetry.RecordExternalCall(ctx, providerName, "get_default_branch", time.Since(start), err)
	if err != nil {
		return "", classifyGitHubError(ctx, resp, err)
	}
	return repository.GetDefaultBranch(), nil
}

func toModelIssue(issue *github.Issue) model.Issue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}

	state := model.IssueOpen
	if issue.GetState() == "closed" {
		state = model.IssueClosed
	}

	return model.Issue{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		URL:       issue.GetHTMLURL(),
		State:     state,
		Labels:    labels,
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
		Author:    issue.GetUser().GetLogin(),
	}
}

func classifyGitHubError(ctx context.Context, resp *github.Response, err error) error {
	if resp == nil {
		telemetry.RecordTimeout(ctx, providerName)
		return faults.New(faults.KindVCSTimeout, "GitHub request failed", err)
	}
	switch resp.StatusCode {
	case 401, 403:
		if isRateLimited(resp) {
			telemetry.RecordRateLimit(ctx, providerName)
			retryAfter := 60 * time.Second
			return faults.Wrap(faults.KindVCSRateLimited, "GitHub rate limit exceeded",
				fmt.Sprintf("retry after %s", retryAfter), err)
		}
		return faults.New(faults.KindVCSAuth, "GitHub authentication failed", err)
	case 404:
		return faults.New(faults.KindVCSNotFound, "GitHub resource not found", err)
	case 429:
		telemetry.RecordRateLimit(ctx, providerName)
		return faults.New(faults.KindVCSRateLimited, "GitHub rate limit exceeded", err)
	case 500, 502, 503, 504:
		telemetry.RecordRetry(ctx, providerName)
		return faults.Wrap(faults.KindVCSAuth, "GitHub request failed", strconv.Itoa(resp.StatusCode), err)
	default:
		return faults.Wrap(faults.KindVCSAuth, "GitHub request failed", strconv.Itoa(resp.StatusCode), err)
	}
}

func isRateLimited(resp *github.Response) bool {
	return resp.Rate.Remaining == 0
}
