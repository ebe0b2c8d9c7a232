package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultName is the manifest filename looked up at the repository root.
const DefaultName = ".gitcrossref"

// DefaultStateName is the provenance file written next to the manifest.
const DefaultStateName = ".gitcrossref.state"

// Mode selects how an entry is synchronized
type Mode string

const (
	// ModeFile syncs a single file
	ModeFile Mode = "file"
	// ModeTree syncs a directory tree recursively
	ModeTree Mode = "tree"
)

// Config represents the complete .gitcrossref manifest
type Config struct {
	Remotes map[string]RemoteConfig `yaml:"remotes"`
	Files   map[string][]FileEntry  `yaml:"files"`
	Sync    SyncConfig              `yaml:"sync"`
	Paths   PathsConfig             `yaml:"paths"`
	Auth    AuthConfig              `yaml:"auth"`

	// dir is the directory containing the manifest; destinations are
	// resolved relative to it.
	dir string
}

// RemoteConfig describes a source repository
type RemoteConfig struct {
	URL      string `yaml:"url"`
	BasePath string `yaml:"base_path"`
	Version  string `yaml:"version"`
}

// FileEntry maps a source path in a remote to a local destination.
// A trailing slash on Source selects directory-tree mode.
type FileEntry struct {
	Source        string `yaml:"source"`
	Destination   string `yaml:"destination"`
	Hash          string `yaml:"hash"`
	IgnoreChanges bool   `yaml:"ignore_changes"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Concurrency int `yaml:"concurrency"`
	Attempts    int `yaml:"attempts"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	CacheDir  string `yaml:"cache_dir"`
	StateFile string `yaml:"state_file"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// Entry is a single validated cross-reference, flattened from the manifest
// and consumed by the sync engine. Source is slash-separated and relative to
// the remote repository root; Destination is relative to the manifest
// directory.
type Entry struct {
	Remote        string
	URL           string
	Ref           string
	Source        string
	Destination   string
	Mode          Mode
	IgnoreChanges bool
}

// Load reads and parses the manifest file
func Load(manifestPath string) (*Config, error) {
	// Expand environment variables in path
	manifestPath = os.ExpandEnv(manifestPath)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}
	cfg.dir = filepath.Dir(abs)

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	for name, remote := range c.Remotes {
		remote.URL = os.ExpandEnv(remote.URL)
		remote.BasePath = os.ExpandEnv(remote.BasePath)
		c.Remotes[name] = remote
	}
	c.Paths.CacheDir = os.ExpandEnv(c.Paths.CacheDir)
	c.Paths.StateFile = os.ExpandEnv(c.Paths.StateFile)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	for name, remote := range c.Remotes {
		if remote.Version == "" {
			remote.Version = "main"
			c.Remotes[name] = remote
		}
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = 4
	}
	if c.Sync.Attempts == 0 {
		c.Sync.Attempts = 3
	}
}

var hashPattern = regexp.MustCompile(`^[0-9a-f]{4,64}$`)

// Validate checks the manifest for errors
func (c *Config) Validate() error {
	if len(c.Remotes) == 0 {
		return fmt.Errorf("at least one remote is required")
	}

	for name, remote := range c.Remotes {
		if remote.URL == "" {
			return fmt.Errorf("remote %q: url is required", name)
		}
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Each destination may be claimed by at most one entry across all remotes
	seen := make(map[string]string)
	for remoteName, entries := range c.Files {
		if _, ok := c.Remotes[remoteName]; !ok {
			return fmt.Errorf("files: remote %q is not defined in remotes", remoteName)
		}

		for _, entry := range entries {
			if entry.Source == "" {
				return fmt.Errorf("remote %q: source is required", remoteName)
			}
			if entry.Destination == "" {
				return fmt.Errorf("remote %q: destination is required for source %q", remoteName, entry.Source)
			}

			if strings.HasSuffix(entry.Source, "/") != strings.HasSuffix(entry.Destination, "/") {
				return fmt.Errorf("remote %q: source %q and destination %q must both end with / for directory sync, or neither",
					remoteName, entry.Source, entry.Destination)
			}

			dest := path.Clean(entry.Destination)
			if path.IsAbs(dest) || dest == ".." || strings.HasPrefix(dest, "../") {
				return fmt.Errorf("remote %q: destination %q must be a relative path inside the repository", remoteName, entry.Destination)
			}
			if prev, dup := seen[dest]; dup {
				return fmt.Errorf("duplicate destination %q (claimed by remotes %q and %q)", dest, prev, remoteName)
			}
			seen[dest] = remoteName

			if entry.Hash != "" && !hashPattern.MatchString(entry.Hash) {
				return fmt.Errorf("remote %q: invalid hash %q for destination %q", remoteName, entry.Hash, entry.Destination)
			}
		}
	}

	return nil
}

// Entries flattens the manifest into the ordered entry list consumed by the
// sync engine. Remotes are visited in name order to keep runs deterministic.
func (c *Config) Entries() []Entry {
	names := make([]string, 0, len(c.Files))
	for name := range c.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	var entries []Entry
	for _, name := range names {
		remote := c.Remotes[name]
		for _, file := range c.Files[name] {
			mode := ModeFile
			if strings.HasSuffix(file.Source, "/") {
				mode = ModeTree
			}

			ref := remote.Version
			if file.Hash != "" {
				ref = file.Hash
			}

			source := path.Clean(file.Source)
			if remote.BasePath != "" {
				source = path.Join(remote.BasePath, source)
			}

			entries = append(entries, Entry{
				Remote:        name,
				URL:           remote.URL,
				Ref:           ref,
				Source:        source,
				Destination:   path.Clean(file.Destination),
				Mode:          mode,
				IgnoreChanges: file.IgnoreChanges,
			})
		}
	}

	return entries
}

// Root returns the directory destinations are resolved against
func (c *Config) Root() string {
	return c.dir
}

// StateFilePath returns the path to the provenance file
func (c *Config) StateFilePath() string {
	if c.Paths.StateFile != "" {
		return c.Paths.StateFile
	}
	return filepath.Join(c.dir, DefaultStateName)
}

// CacheDir returns the directory holding cached repository clones
func (c *Config) CacheDir() string {
	if c.Paths.CacheDir != "" {
		return c.Paths.CacheDir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "git-crossref")
}
