package extractor

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExtensions lists the schema file extensions read by default.
var DefaultExtensions = []string{".yaml", ".yml", ".json"}

// DefaultExclude lists the glob patterns skipped by default.
var DefaultExclude = []string{
	"**/*.test.*",
	"**/*.spec.*",
	"**/node_modules/**",
	"**/vendor/**",
}

// Filter decides which files under a root are schema sources.
type Filter struct {
	Root       string
	Extensions []string
	Exclude    []string
}

// Match reports whether path (absolute, or relative to the working
// directory) is a schema source under the filter's root.
func (f Filter) Match(path string) bool {
	exts := f.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	if !SupportedExtension(path, exts) {
		return false
	}
	rel, err := filepath.Rel(f.Root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}
	for _, pattern := range f.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	return true
}

// Discover walks the filter's root and returns every matching file in
// lexical order.
func Discover(f Filter) ([]string, error) {
	var out []string
	err := filepath.WalkDir(f.Root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != f.Root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if f.Match(p) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extract: discover %s: %w", f.Root, err)
	}
	sort.Strings(out)
	return out, nil
}

// SupportedExtension reports whether path ends in one of exts
// (case-insensitive).
func SupportedExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
