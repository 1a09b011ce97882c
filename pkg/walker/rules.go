package walker

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// IgnoreFilename is read from a library root, when present, in addition to
// the ignore files a library is configured with.
const IgnoreFilename = ".stacksignore"

var systemNames = map[string]struct{}{
	"__macosx":    {},
	"thumbs.db":   {},
	"desktop.ini": {},
}

// Rules decides which paths a walk skips. Patterns use glob syntax with "/"
// as the separator, so "*" stays within one path segment and "**" spans
// several.
type Rules struct {
	patterns []string
	globs    []glob.Glob
}

// NewRules compiles patterns plus every pattern listed in files. Relative
// file paths are resolved against root. Missing files are skipped.
func NewRules(root string, patterns []string, files []string) (*Rules, error) {
	r := &Rules{}
	for _, p := range patterns {
		if err := r.add(p); err != nil {
			return nil, err
		}
	}

	files = append(append([]string{}, files...), IgnoreFilename)
	for _, file := range files {
		if !filepath.IsAbs(file) {
			file = filepath.Join(root, file)
		}
		lines, err := readIgnoreFile(file)
		if err != nil {
			return nil, err
		}
		for _, p := range lines {
			if err := r.add(p); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Rules) add(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return nil
	}
	pattern = strings.TrimPrefix(pattern, "/")
	pattern = strings.TrimSuffix(pattern, "/")
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return errors.Wrapf(err, "invalid ignore pattern %q", pattern)
	}
	r.patterns = append(r.patterns, pattern)
	r.globs = append(r.globs, g)
	return nil
}

// Patterns returns the compiled patterns in the order they were added.
func (r *Rules) Patterns() []string {
	if r == nil {
		return nil
	}
	return r.patterns
}

// Ignored reports whether rel, a slash separated path relative to the walk
// root, is skipped. Dotfiles and OS metadata are always skipped.
func (r *Rules) Ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	base := path.Base(rel)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if _, ok := systemNames[strings.ToLower(base)]; ok {
		return true
	}
	if r == nil {
		return false
	}
	for _, g := range r.globs {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

func readIgnoreFile(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	lines := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, errors.WithStack(scanner.Err())
}
