// Package testgen generates archive fixtures (CBZ, EPUB) and library trees
// for exercising scans in tests.
package testgen

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// CBZOptions configures the generated CBZ file.
type CBZOptions struct {
	Title        string
	Series       string
	Number       string
	Writers      []string
	Genre        string
	AgeRating    string
	Year         int
	Month        int
	Summary      string
	PageCount    int      // defaults to 3
	PageNames    []string // overrides the generated 000.png, 001.png names
	PageWidth    int      // defaults to 100
	PageHeight   int      // defaults to 150
	HasComicInfo bool
	ImageFormat  string // "png" or "jpeg", defaults to "png"
	ExtraEntries map[string][]byte
}

// EPUBOptions configures the generated EPUB file.
type EPUBOptions struct {
	Title         string
	Authors       []string
	Subjects      []string
	Description   string
	Date          string
	ChapterCount  int    // defaults to 1
	CoverMode     string // "meta", "named", "heuristic" or "" for no cover
	CoverMimeType string // "image/jpeg" or "image/png", defaults to "image/png"
}

// CreateSubDir creates a subdirectory within the given parent directory.
func CreateSubDir(t *testing.T, parent, name string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create subdirectory %s: %v", dir, err)
	}
	return dir
}

// WriteFile creates a file with the given content in dir.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	return path
}

// Touch moves the modification time of path forward by d.
func Touch(t *testing.T, path string, d time.Duration) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat %s: %v", path, err)
	}
	mtime := info.ModTime().Add(d)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to touch %s: %v", path, err)
	}
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
