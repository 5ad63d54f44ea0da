// Package gitlab implements provider.VCSProvider against GitLab (self-managed
// or gitlab.com), using gitlab.com/gitlab-org/api/client-go for the REST API
// and security.SafeGHCli only as a clone fallback is not available here —
// GitLab clones go through a plain git binary invocation instead, since the
// gh CLI is GitHub-specific.
package gitlab

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/pebblecode/tracewatch/common"
	"github.com/pebblecode/tracewatch/internal/faults"
	"github.com/pebblecode/tracewatch/internal/model"
	"github.com/pebblecode/tracewatch/internal/provider"
	"github.com/pebblecode/tracewatch/internal/security"
	"github.com/pebblecode/tracewatch/internal/telemetry"
)

const providerName = "gitlab"

type Adapter struct {
	client  *gitlab.Client
	baseURL string
}

// New builds an Adapter against instanceURL (e.g. "https://gitlab.com" or a
// self-managed instance). token is a personal or project access token.
func New(token, instanceURL string) (*Adapter, error) {
	baseURL := strings.TrimSuffix(instanceURL, "/") + "/api/v4"
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("gitlab adapter: %w", err)
	}
	return &Adapter{client: client, baseURL: instanceURL}, nil
}

// projectPath is repo as GitLab expects it in path form: "group/project".
// client-go accepts this directly in place of a numeric project ID.
func projectPath(repo string) (string, error) {
	if !security.ValidateRepoName(repo) {
		return "", faults.New(faults.KindInvalidRepoName, "invalid repository name", fmt.Errorf("%q is not a valid owner/repo path", repo))
	}
	return repo, nil
}

func (a *Adapter) SearchIssues(ctx context.Context, repo, query string, state provider.IssueStateFilter, maxResults int) ([]model.IssueSearchResult, error) {
	project, err := projectPath(repo)
	if err != nil {
		return nil, err
	}
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 10
	}

	opts := &gitlab.ListProjectIssuesOptions{
		Search:      gitlab.Ptr(query),
		ListOptions: gitlab.ListOptions{PerPage: int64(maxResults)},
	}
	if state != "" && state != provider.IssueStateAll {
		opts.State = gitlab.Ptr(string(state))
	}

	start := time.Now()
	issues, resp, err := a.client.Issues.ListProjectIssues(project, opts, gitlab.WithContext(ctx))
	telemetry.RecordExternalCall(ctx, providerName, "search_issues", time.Since(start), err)
	if err != nil {
		return nil, classifyGitLabError(ctx, resp, err)
	}

	out := make([]model.IssueSearchResult, 0, len(issues))
	for _, issue := range issues {
		out = append(out, model.IssueSearchResult{Issue: toModelIssue(issue)})
	}
	return out, nil
}

func (a *Adapter) GetIssue(ctx context.Context, repo string, issueNumber int) (*model.Issue, error) {
	project, err := projectPath(repo)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	issue, resp, err := a.client.Issues.GetIssue(project, int64(issueNumber), gitlab.WithContext(ctx))
	telemetry.RecordExternalCall(ctx, providerName, "get_issue", time.Since(start), err)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, nil
		}
		return nil, classifyGitLabError(ctx, resp, err)
	}

	m := toModelIssue(issue)
	return &m, nil
}

func (a *Adapter) CreateIssue(ctx context.Context, repo string, issue model.IssueCreate) (model.Issue, error) {
	project, err := projectPath(repo)
	if err != nil {
		return model.Issue{}, err
	}

	opts := &gitlab.CreateIssueOptions{
		Title:       gitlab.Ptr(issue.Title),
		Description: gitlab.Ptr(issue.Body),
	}
	if len(issue.Labels) > 0 {
		labels := gitlab.LabelOptions(issue.Labels)
		opts.Labels = &labels
	}
	if len(issue.Assignees) > 0 {
		ids, aerr := a.resolveAssigneeIDs(ctx, project, issue.Assignees)
		if aerr != nil {
			return model.Issue{}, aerr
		}
		opts.AssigneeIDs = &ids
	}

	start := time.Now()
	created, resp, err := a.client.Issues.CreateIssue(project, opts, gitlab.WithContext(ctx))
	telemetry.RecordExternalCall(ctx, providerName, "create_issue", time.Since(start), err)
	if err != nil {
		return model.Issue{}, classifyGitLabError(ctx, resp, err)
	}
	return toModelIssue(created), nil
}

func (a *Adapter) resolveAssigneeIDs(ctx context.Context, project string, usernames []string) ([]int64, error) {
	ids := make([]int64, 0, len(usernames))
	for _, username := range usernames {
		users, resp, err := a.client.Users.ListUsers(&gitlab.ListUsersOptions{Username: gitlab.Ptr(username)}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classifyGitLabError(ctx, resp, err)
		}
		if len(users) > 0 {
			ids = append(ids, users[0].ID)
		}
	}
	return ids, nil
}

// CloneRepository shells out to git directly (list args, no shell), since
// GitLab clones aren't something client-go handles and there's no
// GitLab-equivalent of the gh CLI wrapper. Hooks are disabled the same way.
func (a *Adapter) CloneRepository(ctx context.Context, repo, destination, branch string, shallow bool) (string, error) {
	if !security.ValidateRepoName(repo) {
		return "", faults.New(faults.KindInvalidRepoName, "invalid repository name", nil)
	}

	parts := strings.Split(repo, "/")
	repoName, err := common.Slugify(parts[len(parts)-1], "repo")
	if err != nil {
		return "", fmt.Errorf("deriving clone directory name: %w", err)
	}
	repoPath := destination + "/" + repoName
	cloneURL := strings.TrimSuffix(a.baseURL, "/") + "/" + repo + ".git"

	args := []string{"clone", "-c", "core.hooksPath=/dev/null", cloneURL, repoPath}
	if shallow {
		args = append(args, "--depth", "1")
	}
	if branch != "" {
		args = append(args, "--branch", branch)
	}

	runCtx, cancel := context.WithTimeout(ctx, security.CloneTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, "git", args...)
	output, err := cmd.CombinedOutput()
	telemetry.RecordExternalCall(ctx, providerName, "clone_repository", time.Since(start), err)
	if err != nil {
		if runCtx.Err() != nil {
			telemetry.RecordTimeout(ctx, providerName)
		}
		return "", faults.Wrap(faults.KindVCSAuth, "could not clone repository", string(output), err)
	}
	return repoPath, nil
}

func (a *Adapter) GetFileContent(ctx context.Context, repo, filePath, ref string) (*string, error) {
	project, err := projectPath(repo)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		ref = "HEAD"
	}

	start := time.Now()
	file, resp, err := a.client.RepositoryFiles.GetRawFile(project, filePath, &gitlab.GetRawFileOptions{Ref: gitlab.Ptr(ref)}, gitlab.WithContext(ctx))
	telemetry.RecordExternalCall(ctx, providerName, "get_file_content", time.Since(start), err)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, nil
		}
		return nil, classifyGitLabError(ctx, resp, err)
	}
	content := string(file)
	return &content, nil
}

func (a *Adapter) GetDefaultBranch(ctx context.Context, repo string) (string, error) {
	project, err := projectPath(repo)
	if err != nil {
		return "", err
	}

	start := time.Now()
	p, resp, err := a.client.Projects.GetProject(project, &gitlab.GetProjectOptions{}, gitlab.WithContext(ctx))
	telemetry.RecordExternalCall(ctx, providerName, "get_default_branch", time.Since(start), err)
	if err != nil {
		return "", classifyGitLabError(ctx, resp, err)
	}
	return p.DefaultBranch, nil
}

func toModelIssue(issue *gitlab.Issue) model.Issue {
	state := model.IssueOpen
	if issue.State == "closed" {
		state = model.IssueClosed
	}

	author := ""
	if issue.Author != nil {
		author = issue.Author.Username
	}

	var createdAt, updatedAt time.Time
	if issue.CreatedAt != nil {
		createdAt = *issue.CreatedAt
	}
	if issue.UpdatedAt != nil {
		updatedAt = *issue.UpdatedAt
	}

	return model.Issue{
		Number:    int(issue.IID),
		Title:     issue.Title,
		Body:      issue.Description,
		URL:       issue.WebURL,
		State:     state,
		Labels:    []string(issue.Labels),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Author:    author,
	}
}

func classifyGitLabError(ctx context.Context, resp *gitlab.Response, err error) error {
	if resp == nil {
		telemetry.RecordTimeout(ctx, providerName)
		return faults.New(faults.KindVCSTimeout, "GitLab request failed", err)
	}
	switch resp.StatusCode {
	case 401, 403:
		return faults.New(faults.KindVCSAuth, "GitLab authentication failed", err)
	case 404:
		return faults.New(faults.KindVCSNotFound, "GitLab resource not found", err)
	case 429:
		telemetry.RecordRateLimit(ctx, providerName)
		return faults.New(faults.KindVCSRateLimited, "GitLab rate limit exceeded", err)
	case 500, 502, 503, 504:
		telemetry.RecordRetry(ctx, providerName)
		return faults.Wrap(faults.KindVCSAuth, "GitLab request failed", strconv.Itoa(resp.StatusCode), err)
	default:
		return faults.Wrap(faults.KindVCSAuth, "GitLab request failed", strconv.Itoa(resp.StatusCode), err)
	}
}
