package gitrepo

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Client reads refs and content from cached remote repositories. All access
// goes through the repository cache; no working tree is ever consulted or
// mutated.
type Client struct {
	cache *Cache
}

// NewClient creates a client on top of the given cache
func NewClient(cache *Cache) *Client {
	return &Client{cache: cache}
}

var fullCommitPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// FileContent is an extracted file's bytes plus the mode bit that must
// survive materialization on disk.
type FileContent struct {
	Data       []byte
	Executable bool
}

// Resolve turns a ref (branch, tag, or commit hash) into the full commit
// hash it currently points to. A full commit hash resolves to itself without
// touching the remote; symbolic refs are resolved against the freshly
// fetched cache so moved branches and tags are picked up every run.
func (c *Client) Resolve(ctx context.Context, url, ref string) (string, error) {
	if fullCommitPattern.MatchString(ref) {
		return ref, nil
	}

	repo, err := c.cache.Acquire(ctx, url)
	if err != nil {
		return "", err
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %q in %s: %v", ErrRefNotFound, ref, url, err)
	}
	return hash.String(), nil
}

// ExtractFile returns the content of a single file at the given commit.
func (c *Client) ExtractFile(ctx context.Context, url, commit, path string) (FileContent, error) {
	tree, err := c.treeAt(ctx, url, commit)
	if err != nil {
		return FileContent{}, err
	}

	entry, err := tree.FindEntry(path)
	if err != nil {
		return FileContent{}, fmt.Errorf("%w: %q at commit %s", ErrPathNotFound, path, shortHash(commit))
	}
	if entry.Mode == filemode.Dir {
		return FileContent{}, fmt.Errorf("%w: %q is a directory, entry expects a file", ErrTypeMismatch, path)
	}

	file, err := tree.File(path)
	if err != nil {
		return FileContent{}, fmt.Errorf("%w: %q at commit %s", ErrPathNotFound, path, shortHash(commit))
	}

	contents, err := file.Contents()
	if err != nil {
		return FileContent{}, fmt.Errorf("failed to read %q at commit %s: %w", path, shortHash(commit), err)
	}
	return FileContent{
		Data:       []byte(contents),
		Executable: entry.Mode == filemode.Executable,
	}, nil
}

// ExtractTree returns every file under path at the given commit, keyed by
// slash-separated path relative to path. Submodule entries are skipped. An
// empty or "." path extracts the whole tree.
func (c *Client) ExtractTree(ctx context.Context, url, commit, path string) (map[string]FileContent, error) {
	tree, err := c.treeAt(ctx, url, commit)
	if err != nil {
		return nil, err
	}

	sub := tree
	if path != "" && path != "." {
		entry, err := tree.FindEntry(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %q at commit %s", ErrPathNotFound, path, shortHash(commit))
		}
		if entry.Mode != filemode.Dir {
			return nil, fmt.Errorf("%w: %q is a file, entry expects a directory", ErrTypeMismatch, path)
		}

		sub, err = tree.Tree(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %q at commit %s", ErrPathNotFound, path, shortHash(commit))
		}
	}

	files := make(map[string]FileContent)
	err = sub.Files().ForEach(func(f *object.File) error {
		if f.Mode == filemode.Submodule {
			return nil
		}
		contents, err := f.Contents()
		if err != nil {
			return fmt.Errorf("failed to read %q at commit %s: %w", f.Name, shortHash(commit), err)
		}
		files[f.Name] = FileContent{
			Data:       []byte(contents),
			Executable: f.Mode == filemode.Executable,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// treeAt loads the root tree of the given commit from the cached clone.
func (c *Client) treeAt(ctx context.Context, url, commit string) (*object.Tree, error) {
	repo, err := c.cache.Acquire(ctx, url)
	if err != nil {
		return nil, err
	}

	commitObj, err := repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s in %s: %v", ErrRefNotFound, shortHash(commit), url, err)
	}

	tree, err := commitObj.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree for commit %s: %w", shortHash(commit), err)
	}
	return tree, nil
}

func shortHash(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
