package issuematch

import (
	"sync"
	"time"

	"github.com/pebblecode/tracewatch/internal/model"
)

type cacheEntry struct {
	results []model.IssueSearchResult
	expires time.Time
}

// searchCache is a small TTL cache keyed on (repo, query), shielding the
// VCS backend from repeated searches for the same traceback arriving in a
// short window (e.g. the same error reported by several teammates at once).
type searchCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newSearchCache(ttl time.Duration) *searchCache {
	return &searchCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func cacheKey(repo, query string) string {
	return repo + "\x00" + query
}

func (c *searchCache) get(repo, query string, now time.Time) ([]model.IssueSearchResult, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey(repo, query)]
	if !ok || now.After(entry.expires) {
		return nil, false
	}
	return entry.results, true
}

func (c *searchCache) put(repo, query string, results []model.IssueSearchResult, now time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(repo, query)] = cacheEntry{results: results, expires: now.Add(c.ttl)}
}
