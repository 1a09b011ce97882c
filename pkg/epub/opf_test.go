package epub

import (
	"archive/zip"
	"os"
	"testing"

	"github.com/stacksapp/stacks/internal/testgen"
	"github.com/stacksapp/stacks/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openZip(t *testing.T, path string) *zip.Reader {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	info, err := f.Stat()
	require.NoError(t, err)
	zr, err := zip.NewReader(f, info.Size())
	require.NoError(t, err)
	return zr
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := testgen.GenerateEPUB(t, dir, "book.epub", testgen.EPUBOptions{
		Title:        "A Test Book",
		Authors:      []string{"Jane Doe", "John Roe"},
		Subjects:     []string{"Fiction"},
		Description:  "Summary here",
		Date:         "2020-05-06",
		ChapterCount: 3,
		CoverMode:    "meta",
	})

	doc, err := Open(openZip(t, path))
	require.NoError(t, err)

	assert.Equal(t, "OEBPS/content.opf", doc.OPFPath)
	assert.Equal(t, "A Test Book", doc.Title)
	assert.Equal(t, []string{"Jane Doe", "John Roe"}, doc.Authors)
	assert.Equal(t, "OEBPS/images/cover-art.png", doc.CoverPath)
	require.Len(t, doc.Spine, 3)
	assert.Equal(t, "OEBPS/chapter1.xhtml", doc.Spine[0].Path)
	assert.Equal(t, "OEBPS/chapter3.xhtml", doc.Spine[2].Path)

	raw := doc.Raw()
	assert.Equal(t, metadata.SourceEPUB, raw.Source)
	assert.Equal(t, "Summary here", raw.Summary)
	assert.Equal(t, []string{"Fiction"}, raw.Genres)
	assert.Equal(t, "2020-05-06", raw.Date)
}

func TestOpen_NoExplicitCover(t *testing.T) {
	path := testgen.GenerateEPUB(t, t.TempDir(), "book.epub", testgen.EPUBOptions{
		Title:     "Named Cover",
		CoverMode: "named",
	})

	doc, err := Open(openZip(t, path))
	require.NoError(t, err)
	assert.Empty(t, doc.CoverPath)
	assert.Len(t, doc.Manifest, 3)
}

func TestOpen_NoPackageDocument(t *testing.T) {
	path := testgen.GenerateCBZ(t, t.TempDir(), "not-an-epub.zip", testgen.CBZOptions{})

	_, err := Open(openZip(t, path))
	require.Error(t, err)
}
