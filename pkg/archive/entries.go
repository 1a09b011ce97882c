package archive

import (
	"io"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/comicinfo"
)

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".avif": "image/avif",
	".bmp":  "image/bmp",
	".jxl":  "image/jxl",
}

var systemFiles = map[string]struct{}{
	"thumbs.db":   {},
	"desktop.ini": {},
	".ds_store":   {},
}

// isHidden reports whether an entry lives in or is a dotfile, a macOS
// resource fork directory or an OS metadata file.
func isHidden(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	for _, part := range strings.Split(name, "/") {
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, ".") || part == "__MACOSX" {
			return true
		}
	}
	_, ok := systemFiles[strings.ToLower(path.Base(name))]
	return ok
}

type pageKind int

const (
	notPage pageKind = iota
	imagePage
	// sniffPage entries have no extension and need their bytes checked.
	sniffPage
)

func classifyEntry(name string, isDir bool) pageKind {
	if isDir || isHidden(name) || comicinfo.IsComicInfo(name) {
		return notPage
	}
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
	if _, ok := imageExtensions[ext]; ok {
		return imagePage
	}
	if ext == "" {
		return sniffPage
	}
	return notPage
}

// sniffImage reads the head of r and reports whether it is an image.
func sniffImage(r io.Reader) (bool, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, errors.WithStack(err)
	}
	return strings.HasPrefix(mimetype.Detect(head[:n]).String(), "image/"), nil
}

// contentType prefers the sniffed type and falls back to the extension.
func contentType(name string, data []byte) string {
	mt := mimetype.Detect(data).String()
	if strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "application/xhtml") || strings.HasPrefix(mt, "text/") {
		return mt
	}
	if ct, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return mt
}

// readLimited reads r fully, failing when it exceeds maxEntrySize.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxEntrySize+1))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(data) > maxEntrySize {
		return nil, errors.Errorf("entry exceeds %d bytes", maxEntrySize)
	}
	return data, nil
}

func sortNatural(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return naturalLess(names[i], names[j])
	})
}

// naturalLess orders strings so that embedded numbers compare by value:
// "page2" sorts before "page10". Ties on value fall back to the shorter digit
// run so "01" sorts before "001" deterministically.
func naturalLess(a, b string) bool {
	ai, bi := 0, 0
	for ai < len(a) && bi < len(b) {
		ca, cb := a[ai], b[bi]
		if isDigit(ca) && isDigit(cb) {
			startA, startB := ai, bi
			for ai < len(a) && isDigit(a[ai]) {
				ai++
			}
			for bi < len(b) && isDigit(b[bi]) {
				bi++
			}
			na, errA := strconv.ParseUint(a[startA:ai], 10, 64)
			nb, errB := strconv.ParseUint(b[startB:bi], 10, 64)
			if errA == nil && errB == nil && na != nb {
				return na < nb
			}
			if la, lb := ai-startA, bi-startB; la != lb {
				return la < lb
			}
			continue
		}
		la, lb := lower(ca), lower(cb)
		if la != lb {
			return la < lb
		}
		ai++
		bi++
	}
	if len(a)-ai != len(b)-bi {
		return len(a)-ai < len(b)-bi
	}
	return a < b
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
