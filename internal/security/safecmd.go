package security

import (
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pebblecode/tracewatch/common"
	"github.com/pebblecode/tracewatch/internal/telemetry"
)

const ghCliProviderName = "github"

const (
	// DefaultCommandTimeout bounds any single gh invocation.
	DefaultCommandTimeout = 30 * time.Second
	// CloneTimeout is longer: cloning does real network + disk I/O.
	CloneTimeout = 120 * time.Second
)

// GHCliErrorKind classifies a failed gh CLI invocation by parsing its
// stderr/stdout for known substrings, mirroring the reference wrapper.
type GHCliErrorKind string

const (
	GHCliErrorGeneric        GHCliErrorKind = "generic"
	GHCliErrorAuthentication GHCliErrorKind = "authentication"
	GHCliErrorRateLimit      GHCliErrorKind = "rate_limit"
	GHCliErrorNotFound       GHCliErrorKind = "not_found"
	GHCliErrorPermission     GHCliErrorKind = "permission"
	GHCliErrorTimeout        GHCliErrorKind = "timeout"
)

// GHCliError wraps a failed or timed-out gh invocation with its classified kind.
type GHCliError struct {
	Kind    GHCliErrorKind
	Command []string
	Stdout  string
	Stderr  string
	Err     error
}

func (e *GHCliError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gh cli %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gh cli %s: %s", e.Kind, e.Stderr)
}

func (e *GHCliError) Unwrap() error { return e.Err }

// CommandResult is the outcome of one gh CLI invocation.
type CommandResult struct {
	Stdout     string
	Stderr     string
	ReturnCode int
	Command    []string
}

// Success reports whether the command exited cleanly.
func (r CommandResult) Success() bool { return r.ReturnCode == 0 }

// SafeGHCli wraps the GitHub CLI (gh) with argument-array-only execution
// (never a shell), mandatory repo-name validation, wall-clock timeouts, and
// classified errors. It never shells out to "git" directly; gh handles
// authentication and hook suppression consistently.
type SafeGHCli struct {
	ghPath         string
	defaultTimeout time.Duration
}

// NewSafeGHCli resolves the gh binary from ghPath, or from PATH if empty.
func NewSafeGHCli(ghPath string) (*SafeGHCli, error) {
	resolved := ghPath
	if resolved == "" {
		found, err := exec.LookPath("gh")
		if err != nil {
			return nil, fmt.Errorf("gh CLI not found: install from https://cli.github.com")
		}
		resolved = found
	}
	return &SafeGHCli{ghPath: resolved, defaultTimeout: DefaultCommandTimeout}, nil
}

func (g *SafeGHCli) run(ctx context.Context, args []string, timeout time.Duration) (CommandResult, error) {
	if timeout == 0 {
		timeout = g.defaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, g.ghPath, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	opName := ghCliOpName(args)
	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	fullCommand := append([]string{g.ghPath}, args...)

	if runCtx.Err() == context.DeadlineExceeded {
		telemetry.RecordTimeout(ctx, ghCliProviderName)
		telemetry.RecordExternalCall(ctx, ghCliProviderName, opName, duration, runCtx.Err())
		return CommandResult{}, &GHCliError{
			Kind:    GHCliErrorTimeout,
			Command: fullCommand,
			Err:     fmt.Errorf("command timed out after %s", timeout),
		}
	}

	result := CommandResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ReturnCode: exitCode(err),
		Command:    fullCommand,
	}

	telemetry.RecordExternalCall(ctx, ghCliProviderName, opName, duration, err)
	if !result.Success() {
		classified := classifyError(result)
		if classified.Kind == GHCliErrorRateLimit {
			telemetry.RecordRateLimit(ctx, ghCliProviderName)
		}
		return result, classified
	}
	return result, nil
}

// ghCliOpName labels a gh invocation by its first two arguments (e.g.
// "issue_list", "repo_clone") for metric attribution.
func ghCliOpName(args []string) string {
	if len(args) >= 2 {
		return args[0] + "_" + args[1]
	}
	if len(args) == 1 {
		return args[0]
	}
	return "unknown"
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func classifyError(result CommandResult) *GHCliError {
	combined := strings.ToLower(result.Stderr + result.Stdout)
	kind := GHCliErrorGeneric
	switch {
	case strings.Contains(combined, "authentication") || strings.Contains(combined, "not logged in"):
		kind = GHCliErrorAuthentication
	case strings.Contains(combined, "rate limit"):
		kind = GHCliErrorRateLimit
	case strings.Contains(combined, "not found") || strings.Contains(combined, "could not resolve"):
		kind = GHCliErrorNotFound
	case strings.Contains(combined, "permission denied") || strings.Contains(combined, "forbidden"):
		kind = GHCliErrorPermission
	}
	return &GHCliError{Kind: kind, Command: result.Command, Stdout: result.Stdout, Stderr: result.Stderr}
}

func (g *SafeGHCli) validateRepo(repo string) error {
	if !ValidateRepoName(repo) {
		return &GHCliError{Kind: GHCliErrorGeneric, Err: fmt.Errorf("invalid repository name: %s", repo)}
	}
	return nil
}

// SearchIssues runs `gh issue list --search`. state is clamped to
// open/closed/all and limit to [1,100], matching gh's own bounds.
func (g *SafeGHCli) SearchIssues(ctx context.Context, repo, query, state string, limit int) (CommandResult, error) {
	if err := g.validateRepo(repo); err != nil {
		return CommandResult{}, err
	}
	switch state {
	case "open", "closed", "all":
	default:
		state = "all"
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	args := []string{
		"issue", "list",
		"--repo", repo,
		"--search", query,
		"--state", state,
		"--limit", strconv.Itoa(limit),
		"--json", "number,title,body,state,labels,createdAt,updatedAt,author,url",
	}
	return g.run(ctx, args, 0)
}

// GetIssue runs `gh issue view <number>`.
func (g *SafeGHCli) GetIssue(ctx context.Context, repo string, number int) (CommandResult, error) {
	if err := g.validateRepo(repo); err != nil {
		return CommandResult{}, err
	}
	args := []string{
		"issue", "view", strconv.Itoa(number),
		"--repo", repo,
		"--json", "number,title,body,state,labels,createdAt,updatedAt,author,url",
	}
	return g.run(ctx, args, 0)
}

// CreateIssue runs `gh issue create`.
func (g *SafeGHCli) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (CommandResult, error) {
	if err := g.validateRepo(repo); err != nil {
		return CommandResult{}, err
	}
	args := []string{
		"issue", "create",
		"--repo", repo,
		"--title", title,
		"--body", body,
		"--json", "number,title,url",
	}
	for _, label := range labels {
		args = append(args, "--label", label)
	}
	return g.run(ctx, args, 0)
}

// CloneRepository runs `gh repo clone` with hooks disabled and (by
// default) a shallow, depth-1 checkout. It returns the cloned repo's path
// under destination.
func (g *SafeGHCli) CloneRepository(ctx context.Context, repo, destination, branch string, shallow bool) (string, error) {
	if err := g.validateRepo(repo); err != nil {
		return "", err
	}

	parts := strings.Split(repo, "/")
	repoName, err := common.Slugify(parts[len(parts)-1], "repo")
	if err != nil {
		return "", fmt.Errorf("deriving clone directory name: %w", err)
	}
	repoPath := destination + "/" + repoName

	args := []string{
		"repo", "clone", repo, repoPath,
		"--", "-c", "core.hooksPath=/dev/null",
	}
	if shallow {
		args = append(args, "--depth", "1")
	}
	if branch != "" {
		args = append(args, "--branch", branch)
	}

	if _, err := g.run(ctx, args, CloneTimeout); err != nil {
		return "", err
	}
	return repoPath, nil
}

// GetFileContent runs `gh api .../contents/<path>` and base64-decodes the
// result. Returns (nil, nil) if the file doesn't exist, matching the VCS
// provider contract.
func (g *SafeGHCli) GetFileContent(ctx context.Context, repo, filePath, ref string) (*string, error) {
	if err := g.validateRepo(repo); err != nil {
		return nil, err
	}

	apiPath := fmt.Sprintf("/repos/%s/contents/%s", repo, filePath)
	if ref != "" {
		apiPath += "?ref=" + ref
	}

	result, err := g.run(ctx, []string{"api", apiPath, "--jq", ".content"}, 0)
	if err != nil {
		var ghErr *GHCliError
		if asGHCliError(err, &ghErr) && ghErr.Kind == GHCliErrorNotFound {
			return nil, nil
		}
		return nil, err
	}

	encoded := strings.Trim(strings.TrimSpace(result.Stdout), `"`)
	if encoded == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode file content: %w", err)
	}
	content := string(decoded)
	return &content, nil
}

// GetDefaultBranch runs `gh repo view --json defaultBranchRef`.
func (g *SafeGHCli) GetDefaultBranch(ctx context.Context, repo string) (string, error) {
	if err := g.validateRepo(repo); err != nil {
		return "", err
	}
	result, err := g.run(ctx, []string{
		"repo", "view", repo,
		"--json", "defaultBranchRef",
		"--jq", ".defaultBranchRef.name",
	}, 0)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

func asGHCliError(err error, target **GHCliError) bool {
	if ge, ok := err.(*GHCliError); ok {
		*target = ge
		return true
	}
	return false
}
