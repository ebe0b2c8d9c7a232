package gitrepo

import "errors"

// Sentinel errors for the repository access layer. Callers match them with
// errors.Is; the sync engine maps each one to an error outcome for the
// affected entry without aborting the run.
var (
	// ErrRepositoryUnavailable indicates a network or authentication
	// failure while fetching a remote repository.
	ErrRepositoryUnavailable = errors.New("repository unavailable")

	// ErrRefNotFound indicates a ref that does not exist in the source
	// repository.
	ErrRefNotFound = errors.New("ref not found")

	// ErrPathNotFound indicates a source path missing at the resolved
	// commit.
	ErrPathNotFound = errors.New("path not found at commit")

	// ErrTypeMismatch indicates the entry's sync mode disagrees with what
	// exists at the source path (file vs directory).
	ErrTypeMismatch = errors.New("source path type does not match sync mode")
)
