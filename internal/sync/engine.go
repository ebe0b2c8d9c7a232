package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aesteve-rh/git-crossref/internal/config"
	"github.com/aesteve-rh/git-crossref/internal/gitrepo"
)

// Source provides read access to the remote repositories referenced by the
// manifest. Implemented by gitrepo.Client; tests substitute an in-memory
// fake.
type Source interface {
	// Resolve turns a ref into the full commit hash it points to
	Resolve(ctx context.Context, url, ref string) (string, error)
	// ExtractFile returns the content of a single file at a commit
	ExtractFile(ctx context.Context, url, commit, path string) (gitrepo.FileContent, error)
	// ExtractTree returns all files under a path at a commit
	ExtractTree(ctx context.Context, url, commit, path string) (map[string]gitrepo.FileContent, error)
}

// Policy controls how classified entries are applied
type Policy struct {
	// Force overwrites locally modified and conflicting destinations
	Force bool
	// DryRun classifies and reports without writing anything
	DryRun bool
}

// Engine orchestrates the sync process: resolve, extract, classify and
// apply each manifest entry, then persist provenance.
type Engine struct {
	source Source
	store  *Store
	root   string
	logger *slog.Logger
	limit  int
}

// NewEngine creates a sync engine. root is the directory destination paths
// are resolved against; limit bounds how many entries are processed in
// parallel.
func NewEngine(source Source, store *Store, root string, logger *slog.Logger, limit int) *Engine {
	if limit <= 0 {
		limit = 4
	}
	return &Engine{
		source: source,
		store:  store,
		root:   root,
		logger: logger,
		limit:  limit,
	}
}

// Sync processes every entry and returns one outcome per entry, in entry
// order. Entries are independent: a failure is recorded as an error outcome
// for that entry and the run continues. The returned error only reports a
// failure to persist the provenance store.
func (e *Engine) Sync(ctx context.Context, entries []config.Entry, policy Policy) ([]Outcome, error) {
	e.logger.Info("starting sync",
		"entries", len(entries),
		"force", policy.Force,
		"dry_run", policy.DryRun)

	outcomes := make([]Outcome, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			outcomes[i] = e.syncEntry(gctx, entry, policy)
			return nil
		})
	}
	_ = g.Wait()

	if policy.DryRun {
		return outcomes, nil
	}

	if err := e.store.Save(); err != nil {
		return outcomes, fmt.Errorf("failed to save provenance: %w", err)
	}
	return outcomes, nil
}

// syncEntry performs resolve, extract, classify, apply for a single entry.
func (e *Engine) syncEntry(ctx context.Context, entry config.Entry, policy Policy) Outcome {
	log := e.logger.With("destination", entry.Destination, "remote", entry.Remote)

	if err := ctx.Err(); err != nil {
		// Entries not reached before the deadline count as transient
		// repository failures; work already applied is kept.
		return e.errorOutcome(entry, fmt.Errorf("%w: run canceled before entry was processed: %v",
			gitrepo.ErrRepositoryUnavailable, err))
	}

	commit, err := e.source.Resolve(ctx, entry.URL, entry.Ref)
	if err != nil {
		return e.errorOutcome(entry, err)
	}

	var (
		content     gitrepo.FileContent
		files       map[string]gitrepo.FileContent
		extractedFP string
	)
	switch entry.Mode {
	case config.ModeTree:
		files, err = e.source.ExtractTree(ctx, entry.URL, commit, entry.Source)
		if err != nil {
			return e.errorOutcome(entry, err)
		}
		extractedFP = FingerprintTree(contentsOf(files))
	default:
		content, err = e.source.ExtractFile(ctx, entry.URL, commit, entry.Source)
		if err != nil {
			return e.errorOutcome(entry, err)
		}
		extractedFP = FingerprintFile(content.Data)
	}

	destPath := filepath.Join(e.root, filepath.FromSlash(entry.Destination))
	onDiskFP, err := fingerprintDest(destPath, entry.Mode)
	if err != nil {
		return e.errorOutcome(entry, err)
	}

	rec, exists := e.store.Get(entry.Destination)
	class := Classify(rec, exists, onDiskFP, extractedFP)
	outcome := Outcome{
		Destination:    entry.Destination,
		Classification: class,
		Commit:         commit,
	}

	var apply bool
	switch class {
	case ClassCreated, ClassUpdated:
		apply = true
	case ClassUnchanged:
		// No write, but the recorded commit is advanced below so future
		// runs diff against the latest known-good revision.
	case ClassLocallyModified:
		apply = policy.Force || entry.IgnoreChanges
		if !apply {
			outcome.Message = "destination has local changes; re-run with --force to overwrite"
		}
	case ClassConflict:
		// Conflicts are never applied unless overwrite is forced explicitly.
		apply = policy.Force
		if !apply {
			outcome.Message = "both destination and upstream changed; reconcile manually or re-run with --force"
		}
	}

	if policy.DryRun {
		log.Info("entry checked", "classification", class, "commit", commit)
		return outcome
	}

	if apply {
		if err := e.write(destPath, entry.Mode, content, files); err != nil {
			return e.errorOutcome(entry, fmt.Errorf("failed to write %s: %w", entry.Destination, err))
		}
		outcome.Applied = true
	}

	if apply || class == ClassUnchanged {
		e.store.Put(Record{
			Destination: entry.Destination,
			RemoteURL:   entry.URL,
			Commit:      commit,
			Fingerprint: extractedFP,
			SyncedAt:    time.Now().UTC(),
		})
	}

	log.Info("entry processed", "classification", class, "applied", outcome.Applied, "commit", commit)
	return outcome
}

func (e *Engine) errorOutcome(entry config.Entry, err error) Outcome {
	e.logger.Error("entry failed", "destination", entry.Destination, "remote", entry.Remote, "error", err)
	return Outcome{
		Destination:    entry.Destination,
		Classification: ClassError,
		Message:        err.Error(),
	}
}

// write replaces the destination with the extracted content. File mode is a
// single atomic write; tree mode writes every extracted file and then prunes
// files no longer present upstream.
func (e *Engine) write(destPath string, mode config.Mode, content gitrepo.FileContent, files map[string]gitrepo.FileContent) error {
	if mode == config.ModeFile {
		return writeFileAtomic(destPath, content)
	}

	for rel, fc := range files {
		if err := writeFileAtomic(filepath.Join(destPath, filepath.FromSlash(rel)), fc); err != nil {
			return err
		}
	}
	return pruneTree(destPath, files)
}

// writeFileAtomic writes content via a temp file and rename in the target
// directory, preserving the source's executable bit.
func writeFileAtomic(dst string, content gitrepo.FileContent) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".git-crossref-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(content.Data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	perm := os.FileMode(0644)
	if content.Executable {
		perm = 0755
	}
	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}

// contentsOf strips mode information for fingerprinting, which hashes
// content only.
func contentsOf(files map[string]gitrepo.FileContent) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for p, fc := range files {
		out[p] = fc.Data
	}
	return out
}

// pruneTree removes files under root that are not part of the extracted
// tree, then drops directories left empty.
func pruneTree(root string, files map[string]gitrepo.FileContent) error {
	var dirs []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if _, keep := files[filepath.ToSlash(rel)]; !keep {
			return os.Remove(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Deepest directories first so empty parents collapse too.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		// Fails for non-empty directories, which is fine.
		_ = os.Remove(dir)
	}
	return nil
}
