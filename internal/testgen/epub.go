package testgen

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// GenerateEPUB writes a minimal EPUB 3 at dir/filename and returns its path.
// CoverMode selects how the cover is advertised: "meta" uses
// <meta name="cover">, "named" only names the file cover.*, and "heuristic"
// stores an unreferenced image whose name contains "front".
func GenerateEPUB(t *testing.T, dir, filename string, opts EPUBOptions) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create EPUB parent: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create EPUB file: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatalf("failed to create mimetype entry: %v", err)
	}
	if _, err := w.Write([]byte("application/epub+zip")); err != nil {
		t.Fatalf("failed to write mimetype: %v", err)
	}

	containerXML := `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`
	if err := writeZipFile(zw, "META-INF/container.xml", []byte(containerXML)); err != nil {
		t.Fatalf("failed to write container.xml: %v", err)
	}

	coverMimeType := opts.CoverMimeType
	if coverMimeType == "" {
		coverMimeType = "image/png"
	}
	ext := "png"
	if coverMimeType == "image/jpeg" {
		ext = "jpg"
	}
	coverFilename := ""
	switch opts.CoverMode {
	case "meta":
		coverFilename = "images/cover-art." + ext
	case "named":
		coverFilename = "images/cover." + ext
	case "heuristic":
		coverFilename = "images/front." + ext
	}
	if coverFilename != "" {
		if err := writeZipFile(zw, "OEBPS/"+coverFilename, GenerateImage(t, coverMimeType, 60, 90)); err != nil {
			t.Fatalf("failed to write cover image: %v", err)
		}
		// a decoy so the heuristic has to pick
		if err := writeZipFile(zw, "OEBPS/images/map."+ext, GenerateImage(t, coverMimeType, 10, 10)); err != nil {
			t.Fatalf("failed to write decoy image: %v", err)
		}
	}

	chapters := opts.ChapterCount
	if chapters <= 0 {
		chapters = 1
	}

	if err := writeZipFile(zw, "OEBPS/content.opf", []byte(generateOPF(opts, chapters, coverFilename, coverMimeType))); err != nil {
		t.Fatalf("failed to write content.opf: %v", err)
	}

	for i := 1; i <= chapters; i++ {
		chapter := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>Chapter %d</title></head>
<body><h1>Chapter %d</h1></body></html>`, i, i)
		if err := writeZipFile(zw, fmt.Sprintf("OEBPS/chapter%d.xhtml", i), []byte(chapter)); err != nil {
			t.Fatalf("failed to write chapter %d: %v", i, err)
		}
	}

	return path
}

func generateOPF(opts EPUBOptions, chapters int, coverFilename, coverMimeType string) string {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package version="3.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
`)
	if opts.Title != "" {
		fmt.Fprintf(&buf, "    <dc:title>%s</dc:title>\n", escapeXML(opts.Title))
	}
	for _, author := range opts.Authors {
		fmt.Fprintf(&buf, "    <dc:creator opf:role=\"aut\">%s</dc:creator>\n", escapeXML(author))
	}
	for _, subject := range opts.Subjects {
		fmt.Fprintf(&buf, "    <dc:subject>%s</dc:subject>\n", escapeXML(subject))
	}
	if opts.Description != "" {
		fmt.Fprintf(&buf, "    <dc:description>%s</dc:description>\n", escapeXML(opts.Description))
	}
	if opts.Date != "" {
		fmt.Fprintf(&buf, "    <dc:date>%s</dc:date>\n", escapeXML(opts.Date))
	}
	buf.WriteString("    <dc:identifier id=\"bookid\">urn:uuid:test-book-id</dc:identifier>\n")
	buf.WriteString("    <dc:language>en</dc:language>\n")
	if opts.CoverMode == "meta" {
		buf.WriteString("    <meta name=\"cover\" content=\"cover-image\"/>\n")
	}
	buf.WriteString("  </metadata>\n  <manifest>\n")

	for i := 1; i <= chapters; i++ {
		fmt.Fprintf(&buf, "    <item id=\"chapter%d\" href=\"chapter%d.xhtml\" media-type=\"application/xhtml+xml\"/>\n", i, i)
	}
	if coverFilename != "" {
		id := "img-main"
		if opts.CoverMode == "meta" {
			id = "cover-image"
		}
		fmt.Fprintf(&buf, "    <item id=\"%s\" href=\"%s\" media-type=\"%s\"/>\n", id, coverFilename, coverMimeType)
		ext := filepath.Ext(coverFilename)
		fmt.Fprintf(&buf, "    <item id=\"img-map\" href=\"images/map%s\" media-type=\"%s\"/>\n", ext, coverMimeType)
	}
	buf.WriteString("  </manifest>\n  <spine>\n")
	for i := 1; i <= chapters; i++ {
		fmt.Fprintf(&buf, "    <itemref idref=\"chapter%d\"/>\n", i)
	}
	buf.WriteString("  </spine>\n</package>")

	return buf.String()
}
