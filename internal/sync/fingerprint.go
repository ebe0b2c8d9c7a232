package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aesteve-rh/git-crossref/internal/config"
)

// FingerprintFile computes the content fingerprint of a single file
func FingerprintFile(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintTree computes the content fingerprint of a directory tree.
// Entries are hashed in sorted path order so the result is independent of
// how the tree was enumerated.
func FingerprintTree(files map[string][]byte) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		sum := sha256.Sum256(files[p])
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// fingerprintDest computes the fingerprint of the current on-disk
// destination. An absent destination fingerprints to the empty string.
func fingerprintDest(path string, mode config.Mode) (string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if mode == config.ModeTree {
		if !info.IsDir() {
			return "", fmt.Errorf("destination %s is a file, entry expects a directory", path)
		}
		files, err := readTree(path)
		if err != nil {
			return "", err
		}
		return FingerprintTree(files), nil
	}

	if info.IsDir() {
		return "", fmt.Errorf("destination %s is a directory, entry expects a file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return FingerprintFile(data), nil
}

// readTree loads every file under root, keyed by slash-separated path
// relative to root.
func readTree(root string) (map[string][]byte, error) {
	files := make(map[string][]byte)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
