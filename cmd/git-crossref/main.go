package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aesteve-rh/git-crossref/internal/config"
	"github.com/aesteve-rh/git-crossref/internal/gitrepo"
	"github.com/aesteve-rh/git-crossref/internal/sync"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	verbose   bool

	// Sync command flags
	force       bool
	dryRun      bool
	remoteName  string
	syncTimeout time.Duration

	// Init command flags
	initClone bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "git-crossref",
	Short: "Synchronize cross-referenced files from other Git repositories",
	Long: `git-crossref keeps tracked copies of files and directories that logically
live in other Git repositories. A .gitcrossref manifest at the repository root
declares remotes and the files to mirror; git-crossref fetches the sources,
detects local and upstream drift, and applies updates without silently losing
local changes.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync [destinations...]",
	Short: "Synchronize manifest entries to their destinations",
	Long: `Sync resolves each entry's ref, extracts the referenced content at that
revision and compares it against the destination and the recorded provenance.
Clean destinations are created or updated; locally modified ones are reported
and left alone unless --force is given. Conflicting entries (changed both
locally and upstream) are never applied without --force.

With destination arguments only the matching entries are processed.`,
	RunE: runSync,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report drift without applying any changes",
	Long: `Check performs the same classification as sync but writes nothing: no
destination files and no provenance updates. The exit code is nonzero when any
entry is in error or conflict.`,
	RunE: runCheck,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the manifest file",
	RunE:  runValidate,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter .gitcrossref manifest",
	RunE:  runInit,
}

var cloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Prefetch remote repositories into the local cache",
	RunE:  runClone,
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the repository cache",
	RunE:  runClean,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("git-crossref %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "manifest file (default is ./.gitcrossref)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	// Sync command flags
	syncCmd.Flags().BoolVar(&force, "force", false, "overwrite locally modified and conflicting destinations")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().StringVar(&remoteName, "remote", "", "only process entries of this remote")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 0, "abort the run after this duration (0 = no timeout)")

	checkCmd.Flags().StringVar(&remoteName, "remote", "", "only process entries of this remote")

	initCmd.Flags().BoolVar(&initClone, "clone", false, "prefetch all remotes after writing the manifest")

	cloneCmd.Flags().StringVar(&remoteName, "remote", "", "only fetch this remote")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	if syncTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, syncTimeout)
		defer timeoutCancel()
	}

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	entries := filterEntries(cfg.Entries(), remoteName, args)
	if len(entries) == 0 {
		return fmt.Errorf("no manifest entries matched")
	}

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	outcomes, err := engine.Sync(ctx, entries, sync.Policy{Force: force, DryRun: dryRun})
	if err != nil {
		return err
	}

	return reportOutcomes(outcomes)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	entries := filterEntries(cfg.Entries(), remoteName, nil)
	if len(entries) == 0 {
		return fmt.Errorf("no manifest entries matched")
	}

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	outcomes, err := engine.Sync(ctx, entries, sync.Policy{DryRun: true})
	if err != nil {
		return err
	}

	return reportOutcomes(outcomes)
}

func runValidate(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	if _, err := loadConfig(logger); err != nil {
		return err
	}

	logger.Info("manifest is valid", "path", manifestPath())
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	logger := setupLogger()
	manifest := manifestPath()

	if _, err := os.Stat(manifest); err == nil {
		logger.Warn("manifest already exists", "path", manifest)
		return nil
	}

	if err := os.WriteFile(manifest, []byte(manifestTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	fmt.Printf("Created %s\nEdit this file to configure your remotes and files.\n", manifest)

	if initClone {
		return runClone(cmd, nil)
	}
	return nil
}

func runClone(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	cache := newCache(cfg)

	if remoteName != "" {
		remote, ok := cfg.Remotes[remoteName]
		if !ok {
			return fmt.Errorf("remote %q not found in manifest", remoteName)
		}
		logger.Info("fetching remote", "remote", remoteName, "url", remote.URL)
		if _, err := cache.Acquire(ctx, remote.URL); err != nil {
			return err
		}
		logger.Info("remote fetched", "remote", remoteName)
		return nil
	}

	for name, remote := range cfg.Remotes {
		logger.Info("fetching remote", "remote", name, "url", remote.URL)
		if _, err := cache.Acquire(ctx, remote.URL); err != nil {
			return err
		}
	}
	logger.Info("all remotes fetched")
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	logger.Info("removing repository cache", "path", cfg.CacheDir())
	return os.RemoveAll(cfg.CacheDir())
}

// filterEntries narrows the entry list to one remote and/or an explicit set
// of destinations.
func filterEntries(entries []config.Entry, remote string, destinations []string) []config.Entry {
	if remote == "" && len(destinations) == 0 {
		return entries
	}

	wanted := make(map[string]bool, len(destinations))
	for _, d := range destinations {
		wanted[path.Clean(d)] = true
	}

	var filtered []config.Entry
	for _, entry := range entries {
		if remote != "" && entry.Remote != remote {
			continue
		}
		if len(wanted) > 0 && !wanted[entry.Destination] {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}

// reportOutcomes prints the per-entry results and returns an error when any
// entry failed or is left in conflict.
func reportOutcomes(outcomes []sync.Outcome) error {
	var failed int
	for _, o := range outcomes {
		line := fmt.Sprintf("%-17s %s", o.Classification, o.Destination)
		if o.Message != "" {
			line += " (" + o.Message + ")"
		}
		fmt.Println(line)

		if o.Classification == sync.ClassError || (o.Classification == sync.ClassConflict && !o.Applied) {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d entries failed or conflicted", failed, len(outcomes))
	}
	return nil
}

func newCache(cfg *config.Config) *gitrepo.Cache {
	return gitrepo.NewCache(
		cfg.CacheDir(),
		cfg.Auth.SSHKeyFile,
		cfg.Auth.HTTPSTokenFile,
		gitrepo.RetryPolicy{Attempts: cfg.Sync.Attempts},
	)
}

func newEngine(cfg *config.Config, logger *slog.Logger) (*sync.Engine, error) {
	store, err := sync.LoadStore(cfg.StateFilePath())
	if err != nil {
		return nil, err
	}

	client := gitrepo.NewClient(newCache(cfg))
	return sync.NewEngine(client, store, cfg.Root(), logger, cfg.Sync.Concurrency), nil
}

func manifestPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultName
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	manifest := manifestPath()
	logger.Debug("loading manifest", "path", manifest)

	cfg, err := config.Load(manifest)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("manifest not found: run 'git-crossref init' to create one")
		}
		return nil, err
	}

	logger.Debug("manifest loaded",
		"remotes", len(cfg.Remotes),
		"state_file", cfg.StateFilePath(),
		"cache_dir", cfg.CacheDir())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

const manifestTemplate = `# git-crossref manifest.
# Declares files and directories mirrored from other Git repositories.
remotes:
  # origin:
  #   url: https://github.com/example/repo.git
  #   version: main      # branch, tag, or commit; defaults to main
  #   base_path: src     # optional prefix for every source path

files:
  # origin:
  #   - source: lib/config.yaml
  #     destination: config/config.yaml
  #   - source: templates/          # trailing slash syncs a directory tree
  #     destination: project-templates/
  #   - source: scripts/release.sh
  #     destination: scripts/release.sh
  #     hash: abc123def456          # pin to an exact commit
  #     ignore_changes: true        # never warn about local edits

# sync:
#   concurrency: 4
#   attempts: 3

# paths:
#   cache_dir: ~/.cache/git-crossref
#   state_file: .gitcrossref.state
`
