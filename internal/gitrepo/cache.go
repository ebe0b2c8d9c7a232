package gitrepo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/sync/singleflight"
)

// RetryPolicy bounds the fetch retries performed by the cache. Delay doubles
// after every failed attempt.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// normalize fills in defaults for zero-value policies.
func (p RetryPolicy) normalize() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Delay <= 0 {
		p.Delay = 500 * time.Millisecond
	}
	return p
}

// Cache obtains and caches bare clones of source repositories. Each URL is
// fetched at most once per process run; concurrent acquisitions of the same
// URL share a single fetch. The cache never creates a working tree.
type Cache struct {
	dir            string
	sshKeyFile     string
	httpsTokenFile string
	retry          RetryPolicy

	group singleflight.Group

	mu    sync.Mutex
	repos map[string]acquireResult
}

type acquireResult struct {
	repo *git.Repository
	err  error
}

// NewCache creates a repository cache rooted at dir
func NewCache(dir, sshKeyFile, httpsTokenFile string, retry RetryPolicy) *Cache {
	return &Cache{
		dir:            dir,
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
		retry:          retry.normalize(),
		repos:          make(map[string]acquireResult),
	}
}

// Acquire returns a fetched handle for url. The first caller performs the
// fetch; everyone else gets the memoized result, including a memoized
// failure (a failed remote is not retried within the run).
func (c *Cache) Acquire(ctx context.Context, url string) (*git.Repository, error) {
	c.mu.Lock()
	if res, ok := c.repos[url]; ok {
		c.mu.Unlock()
		return res.repo, res.err
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(url, func() (interface{}, error) {
		repo, err := c.ensureFetched(ctx, url)

		c.mu.Lock()
		c.repos[url] = acquireResult{repo: repo, err: err}
		c.mu.Unlock()

		return repo, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*git.Repository), nil
}

// ensureFetched opens or initializes the bare clone for url and brings its
// branch and tag refs up to date.
func (c *Cache) ensureFetched(ctx context.Context, url string) (*git.Repository, error) {
	repo, err := c.openOrInit(url)
	if err != nil {
		return nil, err
	}

	auth, err := c.authFor(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRepositoryUnavailable, url, err)
	}

	opts := &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs: []gitconfig.RefSpec{
			"+refs/heads/*:refs/heads/*",
			"+refs/tags/*:refs/tags/*",
		},
		Auth:  auth,
		Force: true,
	}

	var lastErr error
	delay := c.retry.Delay
	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		err = repo.FetchContext(ctx, opts)
		if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
			return repo, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < c.retry.Attempts {
			time.Sleep(delay)
			delay *= 2
		}
	}

	return nil, fmt.Errorf("%w: fetch %s: %v", ErrRepositoryUnavailable, url, lastErr)
}

func (c *Cache) openOrInit(url string) (*git.Repository, error) {
	dir := filepath.Join(c.dir, repoDirName(url))

	repo, err := git.PlainOpen(dir)
	switch err {
	case nil:
		return repo, nil
	case git.ErrRepositoryNotExists:
		// fall through to init
	default:
		return nil, fmt.Errorf("%w: open cached clone %s: %v", ErrRepositoryUnavailable, dir, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create cache directory: %v", ErrRepositoryUnavailable, err)
	}

	repo, err = git.PlainInit(dir, true)
	if err != nil {
		return nil, fmt.Errorf("%w: init cached clone %s: %v", ErrRepositoryUnavailable, dir, err)
	}

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: configure origin for %s: %v", ErrRepositoryUnavailable, url, err)
	}

	return repo, nil
}

// authFor maps the configured credentials onto the transport matching the
// URL scheme, mirroring how the manifest's auth section is validated.
func (c *Cache) authFor(url string) (transport.AuthMethod, error) {
	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		return gitssh.NewPublicKeysFromFile("git", c.sshKeyFile, "")
	}

	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read HTTPS token file: %w", err)
		}
		return &githttp.BasicAuth{
			Username: "x-access-token",
			Password: strings.TrimSpace(string(token)),
		}, nil
	}

	return nil, nil
}

// repoDirName derives a stable cache directory name from the remote URL.
func repoDirName(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}
