package clonecache_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pebblecode/tracewatch/internal/clonecache"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeCloner struct {
	calls    int32
	fileSize int
}

func (f *fakeCloner) CloneRepository(ctx context.Context, repo, destination, branch string, shallow bool) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	repoPath := filepath.Join(destination, filepath.Base(repo))
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return "", err
	}
	content := make([]byte, f.fileSize)
	if err := os.WriteFile(filepath.Join(repoPath, "main.py"), content, 0o644); err != nil {
		return "", err
	}
	return repoPath, nil
}

var _ = Describe("Cache", func() {
	var baseDir string

	BeforeEach(func() {
		var err error
		baseDir, err = os.MkdirTemp("", "clonecache-test-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(baseDir) })
	})

	It("clones a repo on first acquire and releases cleanly", func() {
		cloner := &fakeCloner{fileSize: 100}
		c := clonecache.New(clonecache.DefaultConfig(), baseDir, cloner)

		handle, err := c.Acquire(context.Background(), "owner/repo", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(handle.Path).To(BeADirectory())
		handle.Release()
		Expect(cloner.calls).To(Equal(int32(1)))
	})

	It("reuses a fresh clone instead of cloning again", func() {
		cloner := &fakeCloner{fileSize: 100}
		c := clonecache.New(clonecache.DefaultConfig(), baseDir, cloner)

		h1, err := c.Acquire(context.Background(), "owner/repo", "")
		Expect(err).NotTo(HaveOccurred())
		h1.Release()

		h2, err := c.Acquire(context.Background(), "owner/repo", "")
		Expect(err).NotTo(HaveOccurred())
		h2.Release()

		Expect(cloner.calls).To(Equal(int32(1)))
	})

	It("rejects a clone larger than the configured size ceiling", func() {
		cloner := &fakeCloner{fileSize: 10_000}
		cfg := clonecache.DefaultConfig()
		cfg.MaxTotalSize = 1000
		c := clonecache.New(cfg, baseDir, cloner)

		_, err := c.Acquire(context.Background(), "owner/bigrepo", "")
		Expect(err).To(HaveOccurred())
	})

	It("clones only once when many callers race for the same repo", func() {
		cloner := &fakeCloner{fileSize: 100}
		c := clonecache.New(clonecache.DefaultConfig(), baseDir, cloner)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				handle, err := c.Acquire(context.Background(), "owner/concurrent", "")
				if err == nil {
					handle.Release()
				}
			}()
		}
		wg.Wait()

		Expect(cloner.calls).To(Equal(int32(1)))
	})

	It("invalidate forces a re-clone on the next acquire", func() {
		cloner := &fakeCloner{fileSize: 100}
		c := clonecache.New(clonecache.DefaultConfig(), baseDir, cloner)

		h1, err := c.Acquire(context.Background(), "owner/repo", "")
		Expect(err).NotTo(HaveOccurred())
		h1.Release()

		c.Invalidate("owner/repo")

		h2, err := c.Acquire(context.Background(), "owner/repo", "")
		Expect(err).NotTo(HaveOccurred())
		h2.Release()

		Expect(cloner.calls).To(Equal(int32(2)))
	})
})
