package archive

import (
	"archive/zip"

	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/comicinfo"
	"github.com/stacksapp/stacks/pkg/metadata"
)

type zipProcessor struct {
	path string
}

func (p *zipProcessor) Path() string   { return p.path }
func (p *zipProcessor) Format() Format { return FormatZip }

// SampleSize covers the local headers and data of the first entries.
func (p *zipProcessor) SampleSize() (int64, error) {
	zr, err := zip.OpenReader(p.path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer zr.Close()
	return zipSampleSize(p.path, zr.File)
}

func (p *zipProcessor) Hash() (string, error) {
	return hashProcessor(p)
}

func (p *zipProcessor) Metadata() (*metadata.Raw, error) {
	zr, err := zip.OpenReader(p.path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if !comicinfo.IsComicInfo(f.Name) || isHidden(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		ci, err := comicinfo.Parse(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		return ci.Raw(), nil
	}
	return nil, nil
}

func (p *zipProcessor) PageCount() (int, error) {
	zr, err := zip.OpenReader(p.path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer zr.Close()

	pages, err := zipPages(zr.File)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

func (p *zipProcessor) Page(n int) (string, []byte, error) {
	zr, err := zip.OpenReader(p.path)
	if err != nil {
		return "", nil, errors.WithStack(err)
	}
	defer zr.Close()

	pages, err := zipPages(zr.File)
	if err != nil {
		return "", nil, err
	}
	if err := pageOutOfRange(n, len(pages)); err != nil {
		return "", nil, err
	}

	f := pages[n-1]
	data, err := readZipEntry(f)
	if err != nil {
		return "", nil, err
	}
	return contentType(f.Name, data), data, nil
}

// zipPages returns the image entries in natural order.
func zipPages(files []*zip.File) ([]*zip.File, error) {
	byName := map[string]*zip.File{}
	names := []string{}
	for _, f := range files {
		switch classifyEntry(f.Name, f.FileInfo().IsDir()) {
		case imagePage:
		case sniffPage:
			rc, err := f.Open()
			if err != nil {
				return nil, errors.WithStack(err)
			}
			ok, err := sniffImage(rc)
			rc.Close()
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		default:
			continue
		}
		if _, dup := byName[f.Name]; dup {
			continue
		}
		byName[f.Name] = f
		names = append(names, f.Name)
	}

	sortNatural(names)
	pages := make([]*zip.File, len(names))
	for i, name := range names {
		pages[i] = byName[name]
	}
	return pages, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, errors.Errorf("entry %s is too large (%d bytes)", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rc.Close()
	return readLimited(rc)
}

func zipSampleSize(path string, files []*zip.File) (int64, error) {
	size, err := fileSize(path)
	if err != nil {
		return 0, err
	}

	var end int64
	for i, f := range files {
		if i >= sampleEntries {
			break
		}
		offset, err := f.DataOffset()
		if err != nil {
			return 0, errors.WithStack(err)
		}
		if e := offset + int64(f.CompressedSize64); e > end {
			end = e
		}
	}
	if end <= 0 || end > size {
		end = size
	}
	return end, nil
}
