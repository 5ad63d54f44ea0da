package model

import "time"

// IssueState is the lifecycle state of a VCS issue.
type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

// Issue is an immutable snapshot of a VCS issue.
type Issue struct {
	Number    int
	Title     string
	Body      string
	URL       string
	State     IssueState
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	Author    string
}

// IssueSearchResult pairs an Issue with the backend's own relevance score.
type IssueSearchResult struct {
	Issue          Issue
	RelevanceScore float64 // [0,1]
	MatchedTerms   []string
}

// IssueMatch is a scored candidate produced by the issue matcher.
type IssueMatch struct {
	Issue        Issue
	Confidence   float64 // [0,1]
	MatchReasons []string
}

// IssueCreate is a draft issue to be submitted to a VCSProvider.
type IssueCreate struct {
	Title     string
	Body      string
	Labels    []string
	Assignees []string
}
