package testgen

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// GenerateCBZ writes a CBZ at dir/filename holding page images and, when
// requested, a ComicInfo.xml. It returns the full path.
func GenerateCBZ(t *testing.T, dir, filename string, opts CBZOptions) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create CBZ parent: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create CBZ file: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	pageCount := opts.PageCount
	if pageCount <= 0 {
		pageCount = 3
	}
	if len(opts.PageNames) > 0 {
		pageCount = len(opts.PageNames)
	}
	width, height := opts.PageWidth, opts.PageHeight
	if width <= 0 {
		width = 100
	}
	if height <= 0 {
		height = 150
	}

	if opts.HasComicInfo {
		if err := writeZipFile(zw, "ComicInfo.xml", []byte(generateComicInfo(opts, pageCount))); err != nil {
			t.Fatalf("failed to write ComicInfo.xml: %v", err)
		}
	}

	mimeType, ext := "image/png", "png"
	if opts.ImageFormat == "jpeg" || opts.ImageFormat == "jpg" {
		mimeType, ext = "image/jpeg", "jpg"
	}

	img := GenerateImage(t, mimeType, width, height)
	for i := 0; i < pageCount; i++ {
		name := fmt.Sprintf("%03d.%s", i, ext)
		if len(opts.PageNames) > 0 {
			name = opts.PageNames[i]
		}
		if err := writeZipFile(zw, name, img); err != nil {
			t.Fatalf("failed to write page %s: %v", name, err)
		}
	}

	names := make([]string, 0, len(opts.ExtraEntries))
	for name := range opts.ExtraEntries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeZipFile(zw, name, opts.ExtraEntries[name]); err != nil {
			t.Fatalf("failed to write entry %s: %v", name, err)
		}
	}

	return path
}

func generateComicInfo(opts CBZOptions, pageCount int) string {
	var buf bytes.Buffer

	buf.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<ComicInfo>\n")
	element := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&buf, "  <%s>%s</%s>\n", name, escapeXML(value), name)
		}
	}

	element("Title", opts.Title)
	element("Series", opts.Series)
	element("Number", opts.Number)
	element("Summary", opts.Summary)
	element("Writer", strings.Join(opts.Writers, ", "))
	element("Genre", opts.Genre)
	element("AgeRating", opts.AgeRating)
	if opts.Year > 0 {
		element("Year", fmt.Sprint(opts.Year))
	}
	if opts.Month > 0 {
		element("Month", fmt.Sprint(opts.Month))
	}
	element("PageCount", fmt.Sprint(pageCount))

	buf.WriteString("</ComicInfo>")
	return buf.String()
}

func writeZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
