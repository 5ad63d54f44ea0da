// Package issuematch finds existing VCS issues that already describe a
// traceback, so the agent can link to them instead of filing a duplicate.
package issuematch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pebblecode/tracewatch/internal/faults"
	"github.com/pebblecode/tracewatch/internal/model"
	"github.com/pebblecode/tracewatch/internal/provider"
	"github.com/pebblecode/tracewatch/internal/telemetry"
)

// strategy pairs a signal's current weight with whether it's enabled.
// Disabling a strategy zeroes its contribution without touching the others'
// weights, matching the Python prototype's set_strategy_weight/enable_strategy
// knobs (kept here as runtime tuning, not just construction-time config).
type strategy struct {
	weight  float64
	enabled bool
}

// Matcher finds and ranks existing issues matching a parsed traceback.
type Matcher struct {
	vcs    provider.VCSProvider
	llm    provider.LLMProvider // may be nil; semantic signal then contributes 0
	config Config

	// strategies is mutated only via SetStrategyWeight/EnableStrategy;
	// Matcher is owned by a single orchestrator goroutine, so no lock.
	strategies map[string]*strategy

	cache *searchCache
	now   func() time.Time
}

// New builds a Matcher. llm may be nil if no semantic-similarity backend is
// configured; the semantic signal then always scores 0.
func New(vcs provider.VCSProvider, llm provider.LLMProvider, config Config) *Matcher {
	if config.MaxSearchResults <= 0 {
		config.MaxSearchResults = 10
	}
	w := config.Weights
	return &Matcher{
		vcs:    vcs,
		llm:    llm,
		config: config,
		strategies: map[string]*strategy{
			"type":     {weight: w.Type, enabled: true},
			"msg":      {weight: w.Msg, enabled: true},
			"frames":   {weight: w.Frames, enabled: true},
			"semantic": {weight: w.Semantic, enabled: llm != nil},
		},
		cache: newSearchCache(config.SearchCacheTTL),
		now:   time.Now,
	}
}

// ConfidenceThreshold reports the config's match acceptance threshold.
func (m *Matcher) ConfidenceThreshold() float64 {
	return m.config.ConfidenceThreshold
}

// SetStrategyWeight retunes one of "type", "msg", "frames", "semantic".
func (m *Matcher) SetStrategyWeight(name string, weight float64) error {
	s, ok := m.strategies[name]
	if !ok {
		return fmt.Errorf("issuematch: unknown strategy %q", name)
	}
	if weight < 0 {
		return fmt.Errorf("issuematch: weight cannot be negative")
	}
	s.weight = weight
	return nil
}

// EnableStrategy turns a signal on or off, e.g. disabling "semantic" when no
// LLM backend is configured.
func (m *Matcher) EnableStrategy(name string, enabled bool) error {
	s, ok := m.strategies[name]
	if !ok {
		return fmt.Errorf("issuematch: unknown strategy %q", name)
	}
	s.enabled = enabled
	return nil
}

// FindMatches searches repo for issues matching traceback and returns them
// sorted by confidence descending, length capped at MaxSearchResults.
func (m *Matcher) FindMatches(ctx context.Context, repo string, tb model.ParsedTraceback) ([]model.IssueMatch, error) {
	query := m.BuildSearchQuery(tb)
	state := provider.IssueStateOpen
	if m.config.IncludeClosed {
		state = provider.IssueStateAll
	}

	now := m.now()
	results, cached := m.cache.get(repo, query, now)
	if !cached {
		searched, err := m.vcs.SearchIssues(ctx, repo, query, state, m.config.MaxSearchResults)
		if err != nil {
			return nil, faults.Wrap(faults.KindVCSTimeout, "could not search for matching issues", err.Error(), err)
		}
		results = searched
		m.cache.put(repo, query, results, now)
	}

	if len(results) == 0 {
		return nil, nil
	}

	semanticScores := m.semanticScores(ctx, tb, results)

	matches := make([]model.IssueMatch, 0, len(results))
	for i, result := range results {
		matches = append(matches, m.score(tb, result, semanticScores[i]))
	}

	filtered := matches[:0]
	threshold := m.config.ConfidenceThreshold * 0.5 // surface near-misses too, for context in the reply
	for _, match := range matches {
		if match.Confidence >= threshold {
			filtered = append(filtered, match)
		}
	}

	sortMatches(filtered)
	if len(filtered) > m.config.MaxSearchResults {
		filtered = filtered[:m.config.MaxSearchResults]
	}
	if len(filtered) > 0 {
		telemetry.RecordMatchConfidence(ctx, filtered[0].Confidence)
	}
	return filtered, nil
}

func (m *Matcher) semanticScores(ctx context.Context, tb model.ParsedTraceback, results []model.IssueSearchResult) []float64 {
	scores := make([]float64, len(results))
	s := m.strategies["semantic"]
	if !s.enabled || s.weight == 0 || m.llm == nil {
		return scores
	}

	issues := make([]model.Issue, len(results))
	for i, r := range results {
		issues[i] = r.Issue
	}

	computed, err := m.llm.CalculateSimilarity(ctx, tb, issues)
	if err != nil || len(computed) != len(scores) {
		return scores // fall back to 0 for every candidate, matching the reference fallback
	}
	return computed
}

func (m *Matcher) score(tb model.ParsedTraceback, result model.IssueSearchResult, semantic float64) model.IssueMatch {
	issue := result.Issue
	titleLower := strings.ToLower(issue.Title)
	bodyLower := strings.ToLower(issue.Body)
	combinedLower := titleLower + " " + bodyLower

	typeScore := 0.0
	if m.strategies["type"].enabled && containsWord(combinedLower, strings.ToLower(tb.ExceptionType)) {
		typeScore = 1.0
	}

	msgScore := 0.0
	if m.strategies["msg"].enabled {
		msgScore = msgJaccard(tb.ExceptionMessage, titleLower)
		if typeScore == 1.0 && msgScore < 0.1 {
			msgScore = 0.1
		}
	}

	frameScore := 0.0
	basenames := allProjectFrameBasenames(tb)
	if m.strategies["frames"].enabled && len(basenames) > 0 {
		tokens := tokenSet(combinedLower)
		overlap := 0
		for _, basename := range basenames {
			if tokens[basename] {
				overlap++
			}
		}
		frameScore = float64(overlap) / float64(len(basenames))
	}

	if !m.strategies["semantic"].enabled {
		semantic = 0
	}

	confidence := m.strategies["type"].weight*typeScore +
		m.strategies["msg"].weight*msgScore +
		m.strategies["frames"].weight*frameScore +
		m.strategies["semantic"].weight*semantic
	if confidence > 1.0 {
		confidence = 1.0
	}

	reasons := matchReasons(typeScore, msgScore, frameScore, semantic, issue.State == model.IssueClosed)

	return model.IssueMatch{
		Issue:        issue,
		Confidence:   confidence,
		MatchReasons: reasons,
	}
}

func matchReasons(typeScore, msgScore, frameScore, semanticScore float64, closed bool) []string {
	var reasons []string
	suffix := ""
	if closed {
		suffix = " (closed)"
	}
	if typeScore > 0.2 {
		reasons = append(reasons, "exact exception type"+suffix)
	}
	if msgScore > 0.2 {
		reasons = append(reasons, "similar message"+suffix)
	}
	if frameScore > 0.2 {
		reasons = append(reasons, "overlapping file basenames"+suffix)
	}
	if semanticScore > 0.2 {
		reasons = append(reasons, "semantic similarity"+suffix)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "partial match"+suffix)
	}
	return reasons
}

func sortMatches(matches []model.IssueMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		aOpen := a.Issue.State != model.IssueClosed
		bOpen := b.Issue.State != model.IssueClosed
		if aOpen != bOpen {
			return aOpen
		}
		return a.Issue.Number < b.Issue.Number
	})
}

// BuildSearchQuery composes the VCS search-provider query: the exception
// type, a quoted excerpt of its message, and up to three distinct
// innermost project-frame basenames.
func (m *Matcher) BuildSearchQuery(tb model.ParsedTraceback) string {
	parts := []string{tb.ExceptionType}

	excerpt := tb.ExceptionMessage
	if len(excerpt) > 80 {
		excerpt = excerpt[:80]
	}
	excerpt = stripSearchMetacharacters(excerpt)
	if excerpt != "" {
		parts = append(parts, fmt.Sprintf("%q", excerpt))
	}

	seen := make(map[string]bool)
	for _, b := range innermostProjectFrameBasenames(tb) {
		if seen[b] {
			continue
		}
		seen[b] = true
		parts = append(parts, b)
		if len(seen) == 3 {
			break
		}
	}

	return strings.Join(parts, " ")
}
