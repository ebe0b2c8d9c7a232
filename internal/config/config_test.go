package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aesteve-rh/git-crossref/internal/testutil"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	content := `
remotes:
  upstream:
    url: "https://github.com/example/repo.git"
    base_path: "src"
    version: "develop"
  tools:
    url: "git@github.com:example/tools.git"

files:
  upstream:
    - source: "lib/config.yaml"
      destination: "config/config.yaml"
  tools:
    - source: "templates/"
      destination: "project-templates/"
      ignore_changes: true

sync:
  concurrency: 2
`

	cfg, err := Load(writeManifest(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Remotes["upstream"].URL != "https://github.com/example/repo.git" {
		t.Errorf("unexpected upstream URL: %s", cfg.Remotes["upstream"].URL)
	}
	if cfg.Remotes["upstream"].Version != "develop" {
		t.Errorf("expected version develop, got %s", cfg.Remotes["upstream"].Version)
	}
	// Omitted version defaults to main.
	if cfg.Remotes["tools"].Version != "main" {
		t.Errorf("expected default version main, got %s", cfg.Remotes["tools"].Version)
	}
	if cfg.Sync.Concurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", cfg.Sync.Concurrency)
	}
	// Omitted attempts get the default.
	if cfg.Sync.Attempts != 3 {
		t.Errorf("expected default attempts 3, got %d", cfg.Sync.Attempts)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent"))
	if err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeManifest(t, "remotes: [not: valid: yaml"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("CROSSREF_TEST_URL", "https://github.com/example/env.git")

	content := `
remotes:
  origin:
    url: "$CROSSREF_TEST_URL"
files:
  origin:
    - source: "a.txt"
      destination: "a.txt"
`
	cfg, err := Load(writeManifest(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remotes["origin"].URL != "https://github.com/example/env.git" {
		t.Errorf("env var not expanded: %s", cfg.Remotes["origin"].URL)
	}
}

func TestValidate(t *testing.T) {
	remotes := func() map[string]RemoteConfig {
		return map[string]RemoteConfig{
			"origin": {URL: "https://github.com/example/repo.git", Version: "main"},
		}
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Remotes: remotes(),
				Files: map[string][]FileEntry{
					"origin": {{Source: "file.py", Destination: "dest/file.py"}},
				},
			},
			wantErr: false,
		},
		{
			name:    "no remotes",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "missing url",
			cfg: Config{
				Remotes: map[string]RemoteConfig{"origin": {Version: "main"}},
			},
			wantErr: true,
		},
		{
			name: "files reference unknown remote",
			cfg: Config{
				Remotes: remotes(),
				Files: map[string][]FileEntry{
					"nonexistent": {{Source: "file.py", Destination: "dest/file.py"}},
				},
			},
			wantErr: true,
		},
		{
			name: "duplicate destination",
			cfg: Config{
				Remotes: remotes(),
				Files: map[string][]FileEntry{
					"origin": {
						{Source: "file1.py", Destination: "dest/file.py"},
						{Source: "file2.py", Destination: "dest/file.py"},
					},
				},
			},
			wantErr: true,
		},
		{
			name: "directory source with file destination",
			cfg: Config{
				Remotes: remotes(),
				Files: map[string][]FileEntry{
					"origin": {{Source: "dir/", Destination: "target"}},
				},
			},
			wantErr: true,
		},
		{
			name: "directory sync",
			cfg: Config{
				Remotes: remotes(),
				Files: map[string][]FileEntry{
					"origin": {{Source: "dir/", Destination: "target/"}},
				},
			},
			wantErr: false,
		},
		{
			name: "destination escapes repository",
			cfg: Config{
				Remotes: remotes(),
				Files: map[string][]FileEntry{
					"origin": {{Source: "file.py", Destination: "../outside.py"}},
				},
			},
			wantErr: true,
		},
		{
			name: "missing destination",
			cfg: Config{
				Remotes: remotes(),
				Files: map[string][]FileEntry{
					"origin": {{Source: "file.py"}},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid hash",
			cfg: Config{
				Remotes: remotes(),
				Files: map[string][]FileEntry{
					"origin": {{Source: "file.py", Destination: "dest/file.py", Hash: "not-a-hash"}},
				},
			},
			wantErr: true,
		},
		{
			name: "abbreviated hash",
			cfg: Config{
				Remotes: remotes(),
				Files: map[string][]FileEntry{
					"origin": {{Source: "file.py", Destination: "dest/file.py", Hash: "abc123def456"}},
				},
			},
			wantErr: false,
		},
		{
			name: "both auth methods set",
			cfg: Config{
				Remotes: remotes(),
				Auth:    AuthConfig{SSHKeyFile: "/key", HTTPSTokenFile: "/token"},
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEntries(t *testing.T) {
	cfg := Config{
		Remotes: map[string]RemoteConfig{
			"upstream": {URL: "https://github.com/example/repo.git", Version: "main", BasePath: "src"},
			"tools":    {URL: "https://github.com/example/tools.git", Version: "v1.0"},
		},
		Files: map[string][]FileEntry{
			"upstream": {
				{Source: "lib/config.yaml", Destination: "config/config.yaml"},
				{Source: "templates/", Destination: "project-templates/", IgnoreChanges: true},
			},
			"tools": {
				{Source: "release.sh", Destination: "scripts/release.sh", Hash: "abc123def456"},
			},
		},
	}

	entries := cfg.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// Remotes are visited in name order: tools before upstream.
	if entries[0].Remote != "tools" {
		t.Errorf("expected tools first, got %s", entries[0].Remote)
	}
	// A pinned hash overrides the remote version.
	if entries[0].Ref != "abc123def456" {
		t.Errorf("expected pinned ref, got %s", entries[0].Ref)
	}

	fileEntry := entries[1]
	if fileEntry.Mode != ModeFile {
		t.Errorf("expected file mode, got %s", fileEntry.Mode)
	}
	// base_path prefixes the source.
	if fileEntry.Source != "src/lib/config.yaml" {
		t.Errorf("unexpected source: %s", fileEntry.Source)
	}
	if fileEntry.Ref != "main" {
		t.Errorf("expected ref main, got %s", fileEntry.Ref)
	}

	treeEntry := entries[2]
	if treeEntry.Mode != ModeTree {
		t.Errorf("expected tree mode, got %s", treeEntry.Mode)
	}
	if treeEntry.Source != "src/templates" {
		t.Errorf("unexpected tree source: %s", treeEntry.Source)
	}
	if treeEntry.Destination != "project-templates" {
		t.Errorf("unexpected tree destination: %s", treeEntry.Destination)
	}
	if !treeEntry.IgnoreChanges {
		t.Error("expected ignore_changes to carry over")
	}
}

func TestLoad_ExampleManifest(t *testing.T) {
	root, err := testutil.FindRoot(".gitcrossref.example")
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(filepath.Join(root, ".gitcrossref.example"))
	if err != nil {
		t.Fatalf("example manifest should be valid: %v", err)
	}
	if len(cfg.Entries()) == 0 {
		t.Error("example manifest should produce entries")
	}
}

func TestPathDefaults(t *testing.T) {
	content := `
remotes:
  origin:
    url: "https://github.com/example/repo.git"
files:
  origin:
    - source: "a.txt"
      destination: "a.txt"
`
	path := writeManifest(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Root() != filepath.Dir(path) {
		t.Errorf("expected root %s, got %s", filepath.Dir(path), cfg.Root())
	}
	if cfg.StateFilePath() != filepath.Join(filepath.Dir(path), DefaultStateName) {
		t.Errorf("unexpected state file path: %s", cfg.StateFilePath())
	}
	if cfg.CacheDir() == "" {
		t.Error("cache dir should never be empty")
	}

	cfg.Paths.StateFile = "/custom/state.json"
	if cfg.StateFilePath() != "/custom/state.json" {
		t.Errorf("explicit state file not honored: %s", cfg.StateFilePath())
	}
}
