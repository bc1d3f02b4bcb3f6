package model

import (
	"sync"

	"testatlas/internal/provider"
)

// File holds the parsed test hierarchy for one source file within one
// project. A file starts unparsed; once entries are set it never
// transitions back, only to a new (possibly empty) entry sequence.
// Removal from the owning project's map is its only terminal state.
type File struct {
	// ProjectName identifies the owning project. Reverse navigation is
	// a lookup on the model, not a live pointer.
	ProjectName string
	Path        string

	// mu is the owning model's lock; readers may hold a *File across
	// reconciliation passes, so every read synchronizes through it.
	mu *sync.RWMutex

	entries  []*provider.Entry
	parsed   bool
	revision int
}

func newFile(projectName, path string, mu *sync.RWMutex) *File {
	return &File{ProjectName: projectName, Path: path, mu: mu}
}

// Entries returns the current entry sequence and whether the file has
// been parsed at all. An empty sequence with ok=true means the file was
// parsed and confirmed to contain nothing; ok=false means not yet
// parsed. The returned slice is a snapshot.
func (f *File) Entries() ([]*provider.Entry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.parsed {
		return nil, false
	}
	return append([]*provider.Entry(nil), f.entries...), true
}

// Revision returns the file's revision counter: 0 before the first
// entry update, then strictly increasing with every update. Consumers
// use it as a cheap staleness check instead of diffing entry trees.
func (f *File) Revision() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.revision
}

// setEntries unconditionally replaces the entry sequence and bumps the
// revision, even when the new sequence looks identical to the old one.
// Only the reconciler calls this, holding the write side of mu;
// notification is the caller's job.
func (f *File) setEntries(entries []*provider.Entry) {
	if entries == nil {
		entries = []*provider.Entry{}
	}
	f.entries = entries
	f.parsed = true
	f.revision++
}
