package model

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Resolver maps an emitted (on-disk) file to its original source files.
// It is a pure function of the filesystem; returning nil or an empty
// slice means no mapping is known.
type Resolver func(file string) []string

// sourceMapCacheSize bounds each direction of the index. Resolutions
// are keyed by path, so a workspace has to churn through thousands of
// distinct files before anything is evicted.
const sourceMapCacheSize = 4096

// SourceMapIndex is a bidirectional cache over a Resolver: forward maps
// an emitted file to its sources, backward maps a source back to the
// emitted file that produced it. Both caches are populated lazily by
// Resolve calls and live for the model's lifetime.
type SourceMapIndex struct {
	resolver Resolver
	forward  *lru.Cache[string, []string]
	backward *lru.Cache[string, string]
}

// NewSourceMapIndex creates an index over the given resolver. A nil
// resolver means every file resolves to itself.
func NewSourceMapIndex(resolver Resolver) (*SourceMapIndex, error) {
	forward, err := lru.New[string, []string](sourceMapCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward cache: %w", err)
	}
	backward, err := lru.New[string, string](sourceMapCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create backward cache: %w", err)
	}
	return &SourceMapIndex{
		resolver: resolver,
		forward:  forward,
		backward: backward,
	}, nil
}

// Resolve returns the original source files for an emitted file,
// defaulting to the file itself when no mapping is known. Results are
// cached in both directions.
func (i *SourceMapIndex) Resolve(file string) []string {
	if cached, ok := i.forward.Get(file); ok {
		return append([]string(nil), cached...)
	}

	var sources []string
	if i.resolver != nil {
		sources = i.resolver(file)
	}
	if len(sources) == 0 {
		sources = []string{file}
	}

	i.forward.Add(file, sources)
	for _, src := range sources {
		i.backward.Add(src, file)
	}
	return append([]string(nil), sources...)
}

// EmittedFor returns the emitted file a source was resolved from, if a
// prior Resolve recorded one.
func (i *SourceMapIndex) EmittedFor(source string) (string, bool) {
	return i.backward.Get(source)
}

// Translate maps raw filesystem paths to the identifiers the model keys
// on: a path with known source-mapped originals is substituted by them,
// any other path passes through unchanged.
func (i *SourceMapIndex) Translate(paths []string) map[string]bool {
	out := make(map[string]bool, len(paths))
	for _, path := range paths {
		for _, src := range i.Resolve(path) {
			out[src] = true
		}
	}
	return out
}
