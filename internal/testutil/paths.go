package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// FindRoot walks up from the calling test's source file and returns the
// first directory containing the marker file. Tests use it to load fixtures
// that live at the repository root regardless of the working directory the
// test runner picked.
func FindRoot(marker string) (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", fmt.Errorf("caller information unavailable")
	}

	for dir := filepath.Dir(filename); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return dir, nil
		}
		if filepath.Dir(dir) == dir {
			return "", fmt.Errorf("%s not found in any directory above %s", marker, filename)
		}
	}
}
