package issuematch

import (
	"path"
	"regexp"
	"strings"

	"github.com/pebblecode/tracewatch/internal/model"
)

// stopWords is carried over verbatim from the Python prototype's
// key-term extractor: common English function words plus a handful of
// traceback-specific filler terms ("error", "failed", "invalid", ...)
// that are too generic to help disambiguate one exception from another.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "shall": true, "can": true, "need": true,
	"to": true, "of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "into": true,
	"through": true, "during": true, "before": true, "after": true,
	"above": true, "below": true, "between": true, "under": true,
	"over": true, "again": true, "further": true, "then": true, "once": true,
	"here": true, "there": true, "when": true, "where": true, "why": true,
	"how": true, "all": true, "each": true, "few": true, "more": true,
	"most": true, "other": true, "some": true, "such": true, "no": true,
	"nor": true, "not": true, "only": true, "own": true, "same": true,
	"so": true, "than": true, "too": true, "very": true, "just": true,
	"but": true, "and": true, "or": true, "if": true, "because": true,
	"until": true, "while": true, "got": true, "invalid": true,
	"error": true, "failed": true, "cannot": true,
}

var wordTrimPattern = regexp.MustCompile(`^[.,;:!?()\[\]{}'"-]+|[.,;:!?()\[\]{}'"-]+$`)

// extractKeyTerms splits message into lowercase words longer than 2
// characters, trims surrounding punctuation, and drops stop words.
func extractKeyTerms(message string) []string {
	replaced := strings.NewReplacer("'", " ", `"`, " ").Replace(strings.ToLower(message))
	var terms []string
	for _, word := range strings.Fields(replaced) {
		trimmed := wordTrimPattern.ReplaceAllString(word, "")
		if len(trimmed) <= 2 || stopWords[trimmed] {
			continue
		}
		terms = append(terms, trimmed)
	}
	return terms
}

// tokenSet splits text on non-alphanumeric runs into a lookup set, used for
// frame-basename-overlap and exact-word containment checks.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || '_' == r)
	}) {
		set[tok] = true
	}
	return set
}

// containsWord reports whether needle appears in haystack as a whole word
// (not merely a substring), matching the reference "exception type as a
// word" check.
func containsWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return tokenSet(haystack)[needle] || tokenSet(haystack)[strings.ToLower(path.Base(needle))]
}

// msgJaccard is the token-Jaccard similarity of message's key terms against
// title's word set.
func msgJaccard(message, title string) float64 {
	termList := extractKeyTerms(message)
	if len(termList) == 0 {
		return 0
	}
	terms := make(map[string]bool, len(termList))
	for _, t := range termList {
		terms[t] = true
	}
	titleTokens := tokenSet(title)

	intersection, union := 0, len(titleTokens)
	for term := range terms {
		if titleTokens[term] {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// allProjectFrameBasenames returns the distinct basenames of every
// non-stdlib, non-site-packages frame, used as the frame_overlap
// denominator.
func allProjectFrameBasenames(tb model.ParsedTraceback) []string {
	seen := make(map[string]bool)
	var out []string
	for _, frame := range tb.ProjectFrames() {
		base := strings.ToLower(path.Base(frame.FilePath))
		if base == "" || seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, base)
	}
	return out
}

// innermostProjectFrameBasenames walks project frames from innermost to
// outermost, used to build the search query (closest frames to the raise
// site are the most discriminating).
func innermostProjectFrameBasenames(tb model.ParsedTraceback) []string {
	frames := tb.ProjectFrames()
	out := make([]string, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		out = append(out, strings.ToLower(path.Base(frames[i].FilePath)))
	}
	return out
}

var searchMetacharacterPattern = regexp.MustCompile(`[^\w\s.,'-]`)

// stripSearchMetacharacters removes characters that could break a VCS
// backend's search-query syntax (GitHub/GitLab search qualifiers use ':',
// quoting, etc.).
func stripSearchMetacharacters(text string) string {
	return strings.TrimSpace(searchMetacharacterPattern.ReplaceAllString(text, ""))
}
