package archive

import (
	"io"
	"os"

	"github.com/nwaples/rardecode"
	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/comicinfo"
	"github.com/stacksapp/stacks/pkg/metadata"
)

const rarSampleCap = 10 * 1024 * 1024

type rarProcessor struct {
	path string
}

func (p *rarProcessor) Path() string   { return p.path }
func (p *rarProcessor) Format() Format { return FormatRar }

// SampleSize is a tenth of the file, capped. RAR headers do not expose data
// offsets without decompressing, so the sample is proportional instead.
func (p *rarProcessor) SampleSize() (int64, error) {
	size, err := fileSize(p.path)
	if err != nil {
		return 0, err
	}
	sample := size / 10
	if sample > rarSampleCap {
		sample = rarSampleCap
	}
	if sample == 0 {
		sample = size
	}
	return sample, nil
}

func (p *rarProcessor) Hash() (string, error) {
	return hashProcessor(p)
}

func (p *rarProcessor) Metadata() (*metadata.Raw, error) {
	var raw *metadata.Raw
	err := p.each(func(h *rardecode.FileHeader, r io.Reader) (bool, error) {
		if h.IsDir || isHidden(h.Name) || !comicinfo.IsComicInfo(h.Name) {
			return false, nil
		}
		ci, err := comicinfo.Parse(io.LimitReader(r, maxEntrySize))
		if err != nil {
			return true, err
		}
		raw = ci.Raw()
		return true, nil
	})
	return raw, err
}

func (p *rarProcessor) PageCount() (int, error) {
	names, err := p.pageNames()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Page scans the archive twice: once to order the page names and once to
// stream the chosen entry, since RAR entries can only be read sequentially.
func (p *rarProcessor) Page(n int) (string, []byte, error) {
	names, err := p.pageNames()
	if err != nil {
		return "", nil, err
	}
	if err := pageOutOfRange(n, len(names)); err != nil {
		return "", nil, err
	}

	want := names[n-1]
	var data []byte
	err = p.each(func(h *rardecode.FileHeader, r io.Reader) (bool, error) {
		if h.Name != want {
			return false, nil
		}
		var err error
		data, err = readLimited(r)
		return true, err
	})
	if err != nil {
		return "", nil, err
	}
	if data == nil {
		return "", nil, errors.Errorf("entry %s disappeared from %s", want, p.path)
	}
	return contentType(want, data), data, nil
}

func (p *rarProcessor) pageNames() ([]string, error) {
	names := []string{}
	seen := map[string]struct{}{}
	err := p.each(func(h *rardecode.FileHeader, r io.Reader) (bool, error) {
		switch classifyEntry(h.Name, h.IsDir) {
		case imagePage:
		case sniffPage:
			ok, err := sniffImage(r)
			if err != nil || !ok {
				return false, err
			}
		default:
			return false, nil
		}
		if _, dup := seen[h.Name]; !dup {
			seen[h.Name] = struct{}{}
			names = append(names, h.Name)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sortNatural(names)
	return names, nil
}

// each walks the archive entries in order until fn reports it is done.
func (p *rarProcessor) each(fn func(h *rardecode.FileHeader, r io.Reader) (bool, error)) error {
	f, err := os.Open(p.path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	rr, err := rardecode.NewReader(f, "")
	if err != nil {
		return errors.WithStack(err)
	}
	for {
		h, err := rr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}
		done, err := fn(h, rr)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
