package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrProvenanceCorrupt indicates the provenance file exists but cannot be
// read or parsed. Proceeding would risk mis-detecting drift, so loading
// fails instead of starting from an empty store.
var ErrProvenanceCorrupt = errors.New("provenance store corrupt")

// storeVersion is the on-disk format version written by Save.
const storeVersion = 1

// Record is the persisted provenance for one destination: what was last
// synced, from where, and at which revision.
type Record struct {
	Destination string    `json:"destination"`
	RemoteURL   string    `json:"remote_url"`
	Commit      string    `json:"commit"`
	Fingerprint string    `json:"fingerprint"`
	SyncedAt    time.Time `json:"synced_at"`
}

type storeFile struct {
	Version int               `json:"version"`
	Records map[string]Record `json:"records"`
}

// Store persists provenance records keyed by destination path. All mutation
// is serialized behind a mutex; the sync engine is the only writer.
type Store struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

// LoadStore reads the provenance file at path. A missing file yields an
// empty store; an unreadable or unparseable one fails with
// ErrProvenanceCorrupt.
func LoadStore(path string) (*Store, error) {
	store := &Store{
		path:    path,
		records: make(map[string]Record),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProvenanceCorrupt, path, err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProvenanceCorrupt, path, err)
	}
	if file.Version > storeVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrProvenanceCorrupt, path, file.Version)
	}

	if file.Records != nil {
		store.records = file.Records
	}
	return store, nil
}

// Get returns the record for a destination, if one exists
func (s *Store) Get(destination string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[destination]
	return rec, ok
}

// Put inserts or replaces the record for a destination
func (s *Store) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Destination] = rec
}

// Delete removes the record for a destination
func (s *Store) Delete(destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, destination)
}

// Len returns the number of tracked destinations
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Save persists the store via a temp file and atomic rename, so a crashed
// run never leaves a truncated provenance file behind.
func (s *Store) Save() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(storeFile{
		Version: storeVersion,
		Records: s.records,
	}, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, ".gitcrossref-state-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}
