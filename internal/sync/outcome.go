package sync

// Classification describes how a destination relates to its provenance and
// the current upstream content.
type Classification string

const (
	// ClassCreated marks a destination synced for the first time
	ClassCreated Classification = "created"
	// ClassUnchanged marks a destination already matching upstream
	ClassUnchanged Classification = "unchanged"
	// ClassUpdated marks an upstream change with no local edits
	ClassUpdated Classification = "updated"
	// ClassLocallyModified marks local edits with upstream unchanged
	ClassLocallyModified Classification = "locally-modified"
	// ClassConflict marks independent local and upstream changes
	ClassConflict Classification = "conflict"
	// ClassError marks an entry that failed to resolve or extract
	ClassError Classification = "error"
)

// Outcome is the per-entry result of a sync run
type Outcome struct {
	Destination    string
	Classification Classification
	Applied        bool
	Commit         string
	Message        string
}

// Classify determines the drift state of a destination from its provenance
// record and the fingerprints of the on-disk and freshly extracted content.
// An absent destination carries the empty fingerprint.
//
// This table is the drift-detection policy: without a record the entry is a
// first sync; a clean destination follows upstream; a dirty destination is
// either a local modification (upstream still at the recorded state), a
// conflict (both sides moved), or already up to date (the dirty content
// happens to equal the new upstream content).
func Classify(rec Record, exists bool, onDisk, extracted string) Classification {
	if !exists {
		return ClassCreated
	}

	if onDisk == rec.Fingerprint {
		if extracted == rec.Fingerprint {
			return ClassUnchanged
		}
		return ClassUpdated
	}

	// Destination differs from what was last synced.
	if onDisk == extracted {
		// Pre-applied: the local edits already match the new upstream.
		return ClassUnchanged
	}
	if extracted == rec.Fingerprint {
		return ClassLocallyModified
	}
	return ClassConflict
}
