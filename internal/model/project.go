package model

import (
	"sort"
	"sync"
)

// Project represents one test-runner project/profile: a named set of
// test files under a test root directory. Projects are created and
// destroyed only by discovery reconciliation; the file map is mutated
// only by the reconciler, under the write side of mu.
type Project struct {
	// Name never changes after creation.
	Name string

	// mu is the owning model's lock, shared so that readers holding a
	// *Project across reconciliation passes stay synchronized.
	mu *sync.RWMutex

	testDir string
	enabled bool
	files   map[string]*File
}

func newProject(name, testDir string, mu *sync.RWMutex) *Project {
	return &Project{
		Name:    name,
		mu:      mu,
		testDir: testDir,
		enabled: true,
		files:   make(map[string]*File),
	}
}

// TestDir returns the project's test root directory as of the most
// recent discovery pass.
func (p *Project) TestDir() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.testDir
}

// Enabled reports whether the project participates in runs.
func (p *Project) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// File looks up the project's file by path.
func (p *Project) File(path string) (*File, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.files[path]
	return f, ok
}

// Files returns a snapshot of the project's files keyed by path.
func (p *Project) Files() map[string]*File {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]*File, len(p.files))
	for path, f := range p.files {
		out[path] = f
	}
	return out
}

// FilePaths returns the project's file paths in sorted order.
func (p *Project) FilePaths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filePathsLocked()
}

func (p *Project) filePathsLocked() []string {
	paths := make([]string, 0, len(p.files))
	for path := range p.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
