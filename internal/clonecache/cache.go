// Package clonecache manages on-disk repository clones shared across
// concurrent traceback analyses: at most one clone per repository runs at
// a time, entries expire on a TTL/size-bounded eviction sweep, and readers
// hold a refcounted handle so a sweep never deletes a clone in use.
package clonecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pebblecode/tracewatch/internal/faults"
	"github.com/pebblecode/tracewatch/internal/telemetry"
)

// Cloner is the subset of provider.VCSProvider the cache needs. Any VCS
// adapter satisfies it automatically.
type Cloner interface {
	CloneRepository(ctx context.Context, repo, destination, branch string, shallow bool) (string, error)
}

// Config bounds the cache's lifetime and footprint.
type Config struct {
	MaxAge          time.Duration // entries older than this are evicted
	MaxTotalSize    int64         // bytes; also rejects any single clone larger than this
	CleanupInterval time.Duration
}

// DefaultConfig matches the distilled spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxAge:          time.Hour,
		MaxTotalSize:    2 << 30, // 2 GiB
		CleanupInterval: 5 * time.Minute,
	}
}

type entry struct {
	path       string
	createdAt  time.Time
	lastAccess time.Time
	size       int64
	refcount   int
	evictAfter bool // marked for deletion once refcount drops to 0
}

// Cache is a concurrency-safe repo-identifier -> working-directory map.
type Cache struct {
	config  Config
	baseDir string
	cloner  Cloner
	now     func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	repoLocks map[string]*sync.Mutex
}

// New builds a Cache. Clones land under baseDir, one subdirectory per repo.
func New(config Config, baseDir string, cloner Cloner) *Cache {
	return &Cache{
		config:    config,
		baseDir:   baseDir,
		cloner:    cloner,
		now:       time.Now,
		entries:   make(map[string]*entry),
		repoLocks: make(map[string]*sync.Mutex),
	}
}

// Handle is a scoped, refcounted reference to a clone. Callers must call
// Release when done; the underlying clone may be deleted from disk once
// the last handle releases if it was already past its eviction age.
type Handle struct {
	Path    string
	release func()
	once    sync.Once
}

// Release drops this handle's refcount. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(h.release)
}

func (c *Cache) repoLock(repo string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.repoLocks[repo]
	if !ok {
		lock = &sync.Mutex{}
		c.repoLocks[repo] = lock
	}
	return lock
}

// Acquire returns a handle to a fresh clone of repo, cloning it first if
// absent or expired. Concurrent callers for the same repo block on a
// per-repo mutex rather than triggering duplicate clones.
func (c *Cache) Acquire(ctx context.Context, repo, branch string) (*Handle, error) {
	lock := c.repoLock(repo)
	lock.Lock()
	defer lock.Unlock()

	now := c.now()

	c.mu.Lock()
	e, fresh := c.entries[repo]
	if fresh && (now.Sub(e.createdAt) > c.config.MaxAge || !dirExists(e.path)) {
		delete(c.entries, repo)
		fresh = false
	}
	if fresh {
		e.refcount++
		e.lastAccess = now
	}
	c.mu.Unlock()

	if fresh {
		telemetry.RecordCacheHit(ctx, repo)
		return c.handleFor(repo, e), nil
	}
	telemetry.RecordCacheMiss(ctx, repo)

	// CloneRepository derives its own leaf directory name from repo; the
	// cache only needs to tell it which parent directory to clone into.
	path, err := c.cloner.CloneRepository(ctx, repo, c.baseDir, branch, true)
	if err != nil {
		return nil, faults.Wrap(faults.KindVCSAuth, "could not clone repository", err.Error(), err)
	}

	size, err := dirSize(path)
	if err != nil {
		return nil, fmt.Errorf("clonecache: measuring clone size: %w", err)
	}
	if c.config.MaxTotalSize > 0 && size > c.config.MaxTotalSize {
		os.RemoveAll(path)
		return nil, faults.New(faults.KindCloneCacheFull, "repository too large to analyze", fmt.Errorf("clone of %s is %d bytes, exceeds %d byte limit", repo, size, c.config.MaxTotalSize))
	}

	newEntry := &entry{path: path, createdAt: now, lastAccess: now, size: size, refcount: 1}

	c.mu.Lock()
	c.entries[repo] = newEntry
	c.mu.Unlock()

	return c.handleFor(repo, newEntry), nil
}

func (c *Cache) handleFor(repo string, e *entry) *Handle {
	return &Handle{
		Path: e.path,
		release: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			e.refcount--
			if e.refcount <= 0 && e.evictAfter {
				c.removeLocked(repo, e)
			}
		},
	}
}

// removeLocked deletes an entry's clone from disk. Caller must hold c.mu.
func (c *Cache) removeLocked(repo string, e *entry) {
	delete(c.entries, repo)
	os.RemoveAll(e.path)
}

// Invalidate forces repo's clone to be re-cloned on next Acquire, deleting
// it immediately if unreferenced or marking it for deletion once released.
func (c *Cache) Invalidate(repo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[repo]
	if !ok {
		return
	}
	if e.refcount <= 0 {
		c.removeLocked(repo, e)
		return
	}
	e.evictAfter = true
}

// RunEvictionSweep blocks, running the periodic eviction sweep until ctx is
// canceled. Call it from a single long-lived goroutine.
func (c *Cache) RunEvictionSweep(ctx context.Context) {
	interval := c.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// Sweep runs the eviction pass once, synchronously. Used at agent shutdown
// to reclaim disk space without waiting for the next ticker tick.
func (c *Cache) Sweep() {
	c.sweep()
}

func (c *Cache) sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	type candidate struct {
		repo string
		e    *entry
	}
	var byAge []candidate
	var total int64
	for repo, e := range c.entries {
		total += e.size
		if e.refcount > 0 {
			continue
		}
		if now.Sub(e.createdAt) > c.config.MaxAge {
			c.removeLocked(repo, e)
			continue
		}
		byAge = append(byAge, candidate{repo, e})
	}

	if c.config.MaxTotalSize <= 0 || total <= c.config.MaxTotalSize {
		return
	}

	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].e.lastAccess.Before(byAge[j].e.lastAccess)
	})
	for _, cand := range byAge {
		if total <= c.config.MaxTotalSize {
			break
		}
		total -= cand.e.size
		c.removeLocked(cand.repo, cand.e)
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
