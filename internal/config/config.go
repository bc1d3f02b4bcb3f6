// Package config locates test-runner configuration files within a
// workspace and seeds the provider configuration the model is built on.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"testatlas/internal/provider"
)

// DefaultPatterns matches the runner config files recognized out of the
// box, anywhere under the workspace root.
var DefaultPatterns = []string{
	"**/playwright.config.{ts,js,mjs,cjs}",
	"**/testatlas.config.{ts,js,mjs,cjs}",
}

// skipDirs are never descended into while locating configs.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".testatlas":   true,
}

// ErrNotFound is returned when no config file matches under the root.
var ErrNotFound = errors.New("no test-runner config found")

// DefaultExecutable is used when TESTATLAS_RUNNER is not set.
const DefaultExecutable = "playwright"

// Locate finds config files under root matching the given patterns
// (DefaultPatterns when nil) and returns one provider.Config per match,
// sorted by path. ErrNotFound is returned when nothing matches.
func Locate(root string, patterns []string) ([]provider.Config, error) {
	if patterns == nil {
		patterns = DefaultPatterns
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	matched := make(map[string]bool)
	err = filepath.WalkDir(absRoot, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absRoot && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range patterns {
			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				return fmt.Errorf("bad config pattern %q: %w", pattern, err)
			}
			if ok {
				matched[path] = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan workspace: %w", err)
	}
	if len(matched) == 0 {
		return nil, ErrNotFound
	}

	executable := os.Getenv("TESTATLAS_RUNNER")
	if executable == "" {
		executable = DefaultExecutable
	}

	paths := make([]string, 0, len(matched))
	for path := range matched {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	configs := make([]provider.Config, 0, len(paths))
	for _, path := range paths {
		configs = append(configs, provider.Config{
			WorkspaceDir: absRoot,
			ConfigFile:   path,
			Executable:   executable,
		})
	}
	return configs, nil
}

// First is Locate narrowed to a single config; ambiguity is an error so
// the caller can ask the user to disambiguate.
func First(root string, patterns []string) (provider.Config, error) {
	configs, err := Locate(root, patterns)
	if err != nil {
		return provider.Config{}, err
	}
	if len(configs) > 1 {
		files := make([]string, len(configs))
		for i, c := range configs {
			files[i] = c.ConfigFile
		}
		return provider.Config{}, fmt.Errorf("multiple runner configs found: %v", files)
	}
	return configs[0], nil
}
