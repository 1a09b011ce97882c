// Package archive reads the container formats a library can hold: ZIP/CBZ,
// RAR/CBR, EPUB and PDF.
package archive

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/metadata"
)

type Format string

const (
	FormatZip  Format = "zip"
	FormatRar  Format = "rar"
	FormatEpub Format = "epub"
	FormatPdf  Format = "pdf"
)

// maxEntrySize bounds how much of a single entry is read into memory.
const maxEntrySize = 100 * 1024 * 1024

// sampleEntries is how many leading entries the content hash covers.
const sampleEntries = 5

var extensionFormats = map[string]Format{
	".cbz":  FormatZip,
	".zip":  FormatZip,
	".cbr":  FormatRar,
	".rar":  FormatRar,
	".epub": FormatEpub,
	".pdf":  FormatPdf,
}

var mimeFormats = map[string]Format{
	"application/zip":              FormatZip,
	"application/x-rar-compressed": FormatRar,
	"application/epub+zip":         FormatEpub,
	"application/pdf":              FormatPdf,
}

// Processor exposes one file's pages, metadata and identity. Every method
// opens the file afresh, so a Processor holds no handles and needs no Close.
type Processor interface {
	Path() string
	Format() Format
	// SampleSize is how many leading bytes of the file Hash digests.
	SampleSize() (int64, error)
	Hash() (string, error)
	// Metadata returns nil when the file carries no embedded metadata.
	Metadata() (*metadata.Raw, error)
	PageCount() (int, error)
	// Page returns the content type and bytes of the 1-based page n.
	Page(n int) (string, []byte, error)
}

type OpenOptions struct {
	// ConvertRar makes Open refuse RAR files with ErrMustConvert.
	ConvertRar bool
}

// Sentinels for errors.Is. The errors Open returns carry the offending path.
var (
	ErrUnsupported = errcodes.UnsupportedFormat("")
	ErrMustConvert = errcodes.MustConvert("")
)

// IsSupportedExtension reports whether path has an extension a library scan
// should consider.
func IsSupportedExtension(path string) bool {
	_, ok := extensionFormats[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Detect picks the format for path by sniffing its leading bytes, falling back
// to the extension when the sniffed type is generic. A mismatch between the two
// (for example a PDF renamed to .cbz) is resolved in favor of the content.
func Detect(path string) (Format, error) {
	byExt, extOK := extensionFormats[strings.ToLower(filepath.Ext(path))]

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	for m := mt; m != nil; m = m.Parent() {
		if f, ok := mimeFormats[m.String()]; ok {
			// EPUBs written without a leading mimetype entry sniff as zip.
			if f == FormatZip && extOK && byExt == FormatEpub {
				return FormatEpub, nil
			}
			return f, nil
		}
	}
	if extOK && mt.Is("application/octet-stream") {
		return byExt, nil
	}
	return "", errors.WithStack(errcodes.UnsupportedFormat(path))
}

// Open returns the processor for path.
func Open(path string, opts OpenOptions) (Processor, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.WithStack(err)
	}

	format, err := Detect(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatZip:
		return &zipProcessor{path: path}, nil
	case FormatRar:
		if opts.ConvertRar {
			return nil, errors.WithStack(errcodes.MustConvert(path))
		}
		return &rarProcessor{path: path}, nil
	case FormatEpub:
		return &epubProcessor{path: path}, nil
	case FormatPdf:
		return &pdfProcessor{path: path}, nil
	}
	return nil, errors.WithStack(errcodes.UnsupportedFormat(path))
}

func pageOutOfRange(n, count int) error {
	if n < 1 || n > count {
		return errors.WithStack(errcodes.NotFound("Page"))
	}
	return nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return info.Size(), nil
}
