package testgen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// PDFOptions configures the generated PDF file.
type PDFOptions struct {
	Title        string
	Author       string
	Keywords     string
	CreationDate string // PDF date string, e.g. D:20210405120000Z
	PageCount    int    // defaults to 1
}

// GeneratePDF writes a minimal PDF 1.4 document with blank pages and an
// information dictionary, and returns its path.
func GeneratePDF(t *testing.T, dir, filename string, opts PDFOptions) string {
	t.Helper()

	pages := opts.PageCount
	if pages <= 0 {
		pages = 1
	}

	objects := []string{}
	add := func(body string) int {
		objects = append(objects, body)
		return len(objects)
	}

	add("<< /Type /Catalog /Pages 2 0 R >>")
	pagesIdx := add("") // filled once the kids are known
	kids := ""
	for i := 0; i < pages; i++ {
		n := add("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 300] /Resources << >> >>")
		kids += fmt.Sprintf("%d 0 R ", n)
	}
	objects[pagesIdx-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages)

	info := "<< "
	if opts.Title != "" {
		info += fmt.Sprintf("/Title (%s) ", opts.Title)
	}
	if opts.Author != "" {
		info += fmt.Sprintf("/Author (%s) ", opts.Author)
	}
	if opts.Keywords != "" {
		info += fmt.Sprintf("/Keywords (%s) ", opts.Keywords)
	}
	if opts.CreationDate != "" {
		info += fmt.Sprintf("/CreationDate (%s) ", opts.CreationDate)
	}
	info += ">>"
	infoIdx := add(info)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, infoIdx, xref)

	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create PDF parent: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("failed to write PDF: %v", err)
	}
	return path
}
